package models

import "time"

// OAuthGrant links a wallet to tokens issued by a third-party provider.
type OAuthGrant struct {
	ID            string    `gorm:"primaryKey"` // UUID
	WalletAddress string    `gorm:"uniqueIndex:idx_wallet_provider;not null"`
	Provider      string    `gorm:"uniqueIndex:idx_wallet_provider;not null"`
	AccessToken   string    `gorm:"index;not null"`
	RefreshToken  string
	Scope         string
	ExpiresAt     time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the grant is no longer valid at now.
func (g *OAuthGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}
