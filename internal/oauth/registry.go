package oauth

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/oauth/catalog"
)

// Registry maps provider names to providers. It is built at startup and
// handed to the routes that need it.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Get returns the provider named name or a not found error listing the
// supported providers.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.NewNotFound(fmt.Sprintf("Unsupported OAuth provider %q. Supported providers: %s",
			name, strings.Join(r.Names(), ", ")))
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// RegistryFromCatalog builds one OAuth2Provider per catalog entry, all
// sharing sessions.
func RegistryFromCatalog(c *catalog.Catalog, sessions *Store, timeout time.Duration, opts ...ProviderOption) *Registry {
	r := NewRegistry()
	for _, entry := range c.Providers {
		t := entry.Timeout
		if timeout > 0 && timeout < t {
			t = timeout
		}
		r.Register(NewProvider(Config{
			Name:               entry.ID,
			ClientID:           entry.ClientID,
			ClientSecret:       entry.ClientSecret,
			AuthURL:            entry.AuthURL,
			TokenURL:           entry.TokenURL,
			Scopes:             entry.Scopes,
			DefaultRedirectURI: entry.DefaultRedirectURI,
			Timeout:            t,
		}, sessions, opts...))
	}
	return r
}
