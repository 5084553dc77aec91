package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/silvanus-labs/greenchain/internal/db/models"
	"github.com/silvanus-labs/greenchain/internal/identity"
)

// GrantStore persists OAuth grants.
type GrantStore struct {
	db *gorm.DB
}

// NewGrantStore creates a store over db.
func NewGrantStore(db *gorm.DB) *GrantStore {
	return &GrantStore{db: db}
}

// Save upserts the grant for (wallet, provider). An existing grant keeps its
// id; g.ID is set to the stored id on return.
func (s *GrantStore) Save(ctx context.Context, g *models.OAuthGrant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.OAuthGrant
		err := tx.Where("wallet_address = ? AND provider = ?", g.WalletAddress, g.Provider).First(&existing).Error
		switch {
		case err == nil:
			g.ID = existing.ID
			g.CreatedAt = existing.CreatedAt
			return tx.Model(&existing).Updates(map[string]any{
				"access_token":  g.AccessToken,
				"refresh_token": g.RefreshToken,
				"scope":         g.Scope,
				"expires_at":    g.ExpiresAt,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			if g.ID == "" {
				g.ID = uuid.NewString()
			}
			return tx.Create(g).Error
		default:
			return fmt.Errorf("failed to look up grant: %w", err)
		}
	})
}

// Get returns the grant with id, or nil when none exists.
func (s *GrantStore) Get(ctx context.Context, id string) (*models.OAuthGrant, error) {
	var g models.OAuthGrant
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// FindByAccessToken implements identity.GrantFinder.
func (s *GrantStore) FindByAccessToken(ctx context.Context, accessToken string) (*identity.Grant, error) {
	var g models.OAuthGrant
	err := s.db.WithContext(ctx).Where("access_token = ?", accessToken).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity.Grant{
		ID:            g.ID,
		WalletAddress: g.WalletAddress,
		Provider:      g.Provider,
		ExpiresAt:     g.ExpiresAt,
	}, nil
}

// List returns every grant ordered by creation time.
func (s *GrantStore) List(ctx context.Context) ([]models.OAuthGrant, error) {
	var grants []models.OAuthGrant
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

// ListExpiringBefore returns grants with a refresh token that expire
// before t.
func (s *GrantStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]models.OAuthGrant, error) {
	var grants []models.OAuthGrant
	err := s.db.WithContext(ctx).
		Where("expires_at < ? AND refresh_token <> ''", t).
		Order("expires_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// UpdateTokens stores refreshed tokens for a grant.
func (s *GrantStore) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.OAuthGrant{}).Where("id = ?", id).Updates(map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_at":    expiresAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a grant.
func (s *GrantStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.OAuthGrant{}).Error
}
