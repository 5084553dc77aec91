// Package ratelimit enforces hourly request quotas per caller bucket.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/silvanus-labs/greenchain/internal/identity"
)

// Hourly quotas.
const (
	QuotaAdmin     = 10000
	QuotaPremium   = 5000
	QuotaBasic     = 1000
	QuotaAnonymous = 100
)

const anonymous = "anonymous"

// Bucket is the unit a quota is counted against.
type Bucket struct {
	// Key incorporates both the caller and its tier.
	Key   string
	Tier  string
	Limit int
}

// QuotaFor returns the hourly quota of a tier.
func QuotaFor(t identity.Tier) int {
	switch t {
	case identity.TierAdmin:
		return QuotaAdmin
	case identity.TierPremium:
		return QuotaPremium
	default:
		return QuotaBasic
	}
}

// BucketFor maps a resolved identity to its bucket, or the remote address
// to the anonymous bucket when id is nil.
func BucketFor(id identity.Identity, remoteAddr string) Bucket {
	switch v := id.(type) {
	case identity.APIKey:
		tier := v.Tier()
		return Bucket{
			Key:   fmt.Sprintf("apikey:%s:%s", hashKey(v.Key), tier),
			Tier:  string(tier),
			Limit: QuotaFor(tier),
		}
	case identity.OAuthPrincipal:
		tier := v.Tier()
		return Bucket{
			Key:   fmt.Sprintf("oauth:%s:%s:%s", v.Provider, v.WalletAddress, tier),
			Tier:  string(tier),
			Limit: QuotaFor(tier),
		}
	default:
		return Bucket{
			Key:   fmt.Sprintf("ip:%s:%s", remoteAddr, anonymous),
			Tier:  anonymous,
			Limit: QuotaAnonymous,
		}
	}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
