// Package catalog loads OAuth provider endpoints from a YAML file and
// applies per-provider credentials from the environment.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// KindIdentity providers only prove account ownership.
	KindIdentity = "identity"
	// KindData providers also expose activity data the poller can read.
	KindData = "data"

	defaultTimeout = 30 * time.Second
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type fileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one entry of the providers file.
type ProviderConfig struct {
	ID                 string   `yaml:"id"`
	Enabled            *bool    `yaml:"enabled"`
	Kind               string   `yaml:"kind"`
	AuthURL            string   `yaml:"auth_url"`
	TokenURL           string   `yaml:"token_url"`
	Scopes             []string `yaml:"scopes"`
	DefaultRedirectURI string   `yaml:"default_redirect_uri"`
	Timeout            string   `yaml:"timeout"`
}

// Provider is a normalized catalog entry with credentials applied.
type Provider struct {
	ID                 string        `json:"id"`
	Kind               string        `json:"kind"`
	AuthURL            string        `json:"auth_url"`
	TokenURL           string        `json:"token_url"`
	Scopes             []string      `json:"scopes"`
	DefaultRedirectURI string        `json:"default_redirect_uri,omitempty"`
	Timeout            time.Duration `json:"-"`
	ClientID           string        `json:"-"`
	ClientSecret       string        `json:"-"`
	// Configured is true when client credentials were found.
	Configured bool `json:"configured"`
}

// Catalog is the loaded provider list, sorted by id.
type Catalog struct {
	Providers []Provider
	// Source is the file the catalog was read from, empty for defaults.
	Source string
}

// Load reads path, or the first existing default location when path is
// empty, falling back to the built-in providers when no file exists.
// getenv supplies <ID>_CLIENT_ID, <ID>_CLIENT_SECRET and <ID>_REDIRECT_URI.
func Load(path string, getenv func(string) string) (*Catalog, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	var configs []ProviderConfig
	if resolved != "" {
		configs, err = loadFile(resolved)
		if err != nil {
			return nil, err
		}
	}
	if len(configs) == 0 {
		configs = defaultProviders()
	}

	c := &Catalog{Source: resolved}
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		p, ok := normalizeConfig(cfg, getenv)
		if !ok || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		c.Providers = append(c.Providers, p)
	}
	sort.SliceStable(c.Providers, func(i, j int) bool {
		return c.Providers[i].ID < c.Providers[j].ID
	})
	return c, nil
}

// Get returns the provider with id.
func (c *Catalog) Get(id string) (Provider, bool) {
	id = normalizeProviderID(id)
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// IdentityOnly returns the ids of providers that expose no activity data.
func (c *Catalog) IdentityOnly() []string {
	var ids []string
	for _, p := range c.Providers {
		if p.Kind == KindIdentity {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func loadFile(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth providers file %q: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse oauth providers file %q: %w", path, err)
	}
	return cfg.Providers, nil
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/oauth_providers.yaml",
		"/etc/greenchain/oauth_providers.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "greenchain", "oauth_providers.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func normalizeConfig(cfg ProviderConfig, getenv func(string) string) (Provider, bool) {
	id := normalizeProviderID(cfg.ID)
	if !providerIDRegexp.MatchString(id) {
		return Provider{}, false
	}
	if cfg.Enabled != nil && !*cfg.Enabled {
		return Provider{}, false
	}

	authURL := firstNonEmpty(getenv(envName(id, "AUTH_URL")), cfg.AuthURL)
	tokenURL := firstNonEmpty(getenv(envName(id, "TOKEN_URL")), cfg.TokenURL)
	if authURL == "" || tokenURL == "" {
		return Provider{}, false
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind != KindIdentity {
		kind = KindData
	}

	timeout := defaultTimeout
	if raw := strings.TrimSpace(cfg.Timeout); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			timeout = parsed
		}
	}

	clientID := strings.TrimSpace(getenv(envName(id, "CLIENT_ID")))
	clientSecret := strings.TrimSpace(getenv(envName(id, "CLIENT_SECRET")))

	return Provider{
		ID:                 id,
		Kind:               kind,
		AuthURL:            authURL,
		TokenURL:           tokenURL,
		Scopes:             normalizeScopes(cfg.Scopes),
		DefaultRedirectURI: firstNonEmpty(getenv(envName(id, "REDIRECT_URI")), cfg.DefaultRedirectURI),
		Timeout:            timeout,
		ClientID:           clientID,
		ClientSecret:       clientSecret,
		Configured:         clientID != "" && clientSecret != "",
	}, true
}

func normalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		result = append(result, s)
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// envName returns e.g. GITHUB_CLIENT_ID for ("github", "CLIENT_ID").
func envName(id, suffix string) string {
	upper := strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToUpper(id))
	return upper + "_" + suffix
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:       "github",
			Kind:     KindIdentity,
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
			Scopes:   []string{"read:user", "user:email"},
		},
		{
			ID:       "solaredge",
			Kind:     KindData,
			AuthURL:  "https://solaredge.com/oauth/authorize",
			TokenURL: "https://solaredge.com/oauth/token",
			Scopes:   []string{"read_site"},
		},
	}
}
