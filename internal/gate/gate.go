// Package gate guards the transition from a validated activity to
// settlement. Every submission passes Validate then Authorize, and only the
// Authorization returned by the latter is accepted by a settler.
package gate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/silvanus-labs/greenchain/internal/activity"
	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/identity"
)

// BasicCeiling is the largest value a basic tier caller may submit at once.
const BasicCeiling = 100.0

// Gate is a single-use two-phase check for one submission.
type Gate struct {
	mu         sync.Mutex
	caller     identity.Identity
	activity   activity.Activity
	validated  bool
	authorized bool
}

// New creates a gate for one submission by caller.
func New(caller identity.Identity, a activity.Activity) *Gate {
	return &Gate{caller: caller, activity: a}
}

// Validate re-checks value bounds independently of request decoding.
func (g *Gate) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.validated = false
	if err := activity.CheckBounds(g.activity.Value); err != nil {
		return err
	}
	g.validated = true
	return nil
}

// Authorize applies identity policy and returns the token a settler needs.
// It fails if Validate has not succeeded first and may succeed only once.
func (g *Gate) Authorize() (Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.validated {
		return Authorization{}, apperr.NewValidation("Not authorized: validation failed")
	}
	if g.authorized {
		return Authorization{}, apperr.NewValidation("Not authorized: submission already authorized")
	}

	if p, ok := g.caller.(identity.OAuthPrincipal); ok {
		if !p.HasScope(identity.ScopeWrite) {
			return Authorization{}, apperr.NewAuthorization("Token lacks write scope")
		}
		if !strings.EqualFold(p.WalletAddress, g.activity.WalletAddress) {
			return Authorization{}, apperr.NewAuthorization("Token is not linked to this wallet")
		}
	}

	if g.caller == nil {
		return Authorization{}, apperr.NewAuthentication("API key or bearer token required")
	}
	if g.caller.Tier() == identity.TierBasic && g.activity.Value > BasicCeiling {
		return Authorization{}, apperr.NewAuthorization(
			fmt.Sprintf("Basic tier submissions are limited to %.0f kWh", BasicCeiling))
	}

	g.authorized = true
	return Authorization{activity: g.activity, caller: g.caller, ok: true}, nil
}

// Authorization is proof that a submission passed both phases. The zero
// value is not valid.
type Authorization struct {
	activity activity.Activity
	caller   identity.Identity
	ok       bool
}

// Valid reports whether a was issued by Authorize.
func (a Authorization) Valid() bool { return a.ok }

// Activity returns the authorized activity.
func (a Authorization) Activity() activity.Activity { return a.activity }

// Caller returns the identity the activity was authorized for.
func (a Authorization) Caller() identity.Identity { return a.caller }
