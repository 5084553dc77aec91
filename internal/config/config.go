// Package config loads process configuration from GREENCHAIN_* environment variables.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment prefix for every setting below.
const Prefix = "GREENCHAIN"

// Config holds the API server configuration.
type Config struct {
	Host      string `envconfig:"HOST" default:"127.0.0.1"`
	Port      int    `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// APIKeys is the comma-separated allow-list of accepted X-API-Key values.
	APIKeys []string `envconfig:"API_KEYS"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"greenchain.db"`

	// RedisURL switches rate-limit counters and OAuth sessions to redis when set.
	RedisURL string `envconfig:"REDIS_URL"`

	OAuthSessionTTL    time.Duration `envconfig:"OAUTH_SESSION_TTL" default:"10m"`
	OAuthTimeout       time.Duration `envconfig:"OAUTH_TIMEOUT" default:"30s"`
	OAuthProvidersFile string        `envconfig:"OAUTH_PROVIDERS_FILE"`

	Ledger Ledger `envconfig:"LEDGER"`

	TokenRefreshInterval time.Duration `envconfig:"TOKEN_REFRESH_INTERVAL" default:"15m"`
}

// Ledger configures the settlement collaborator. An empty RPCURL selects
// the dry-run settler.
type Ledger struct {
	RPCURL         string        `envconfig:"RPC_URL"`
	PrivateKey     string        `envconfig:"PRIVATE_KEY"`
	Contract       string        `envconfig:"CONTRACT"`
	ReceiptTimeout time.Duration `envconfig:"RECEIPT_TIMEOUT" default:"30s"`
}

// Poller holds the configuration of the standalone activity poller.
type Poller struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"greenchain.db"`

	APIBaseURL      string        `envconfig:"API_BASE_URL" default:"http://127.0.0.1:8080"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"1h"`
	PollConcurrency int           `envconfig:"POLL_CONCURRENCY" default:"4"`
	PollRate        float64       `envconfig:"POLL_RATE" default:"5"`
	SolarEdgeAPIURL string        `envconfig:"SOLAREDGE_API_URL" default:"https://monitoringapi.solaredge.com"`
}

// Load parses the server configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPoller parses the poller configuration from the environment.
func LoadPoller() (*Poller, error) {
	var cfg Poller
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if cfg.PollConcurrency < 1 {
		return nil, fmt.Errorf("POLL_CONCURRENCY must be positive, got %d", cfg.PollConcurrency)
	}
	if cfg.PollRate <= 0 {
		return nil, fmt.Errorf("POLL_RATE must be positive, got %v", cfg.PollRate)
	}
	return &cfg, nil
}

// Validate normalizes list values and rejects unsupported drivers.
func (c *Config) Validate() error {
	keys := c.APIKeys[:0]
	for _, k := range c.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	c.APIKeys = keys

	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.OAuthSessionTTL <= 0 {
		return fmt.Errorf("OAUTH_SESSION_TTL must be positive")
	}
	if c.Ledger.RPCURL != "" && (c.Ledger.PrivateKey == "" || c.Ledger.Contract == "") {
		return fmt.Errorf("LEDGER_RPC_URL requires LEDGER_PRIVATE_KEY and LEDGER_CONTRACT")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
