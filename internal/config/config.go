// Package config holds the runtime configuration for the lelang autobid
// CLI: marketplace endpoints, polling parameters, and file locations.
// Values come from environment variables with sane defaults; command-line
// flags may override individual fields after loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// MinPollingInterval and MaxPollingInterval bound how aggressively a
	// session may poll the marketplace.
	MinPollingInterval = 10 * time.Millisecond
	MaxPollingInterval = 500 * time.Millisecond
)

var (
	ErrIntervalOutOfRange = errors.New("config: polling interval out of range")
	ErrBadConcurrency     = errors.New("config: concurrency must be at least 1")
)

// Config is the full configuration surface of the CLI.
type Config struct {
	// Marketplace endpoints. The defaults point at the production
	// lelang.go.id API; the simulator overrides them for local runs.
	AuthBaseURL    string `env:"LELANG_AUTH_URL" envDefault:"https://api-auth.lelang.go.id/api/v1"`
	APIBaseURL     string `env:"LELANG_API_URL" envDefault:"https://api.lelang.go.id/api/v1"`
	BiddingBaseURL string `env:"LELANG_BIDDING_URL" envDefault:"https://bidding.lelang.go.id/api/v1"`

	// TokenPath is where the bearer token is stored between commands.
	// Defaults to ~/.lelang-cli/token.json.
	TokenPath string `env:"LELANG_TOKEN_FILE"`

	// PollingInterval is the per-worker delay between status fetches.
	PollingInterval time.Duration `env:"LELANG_POLL_INTERVAL" envDefault:"20ms"`

	// Concurrency is the number of parallel polling workers.
	Concurrency int `env:"LELANG_CONCURRENCY" envDefault:"3"`

	// SafetyMargin suppresses a second bid while one is still in flight
	// and less than this much auction time remains.
	SafetyMargin time.Duration `env:"LELANG_SAFETY_MARGIN" envDefault:"2s"`

	// RequestTimeout caps slow-path calls (login, profile, auction
	// detail). Polling and bid submission derive their own tighter
	// timeouts from PollingInterval.
	RequestTimeout time.Duration `env:"LELANG_REQUEST_TIMEOUT" envDefault:"30s"`

	// MetricsAddr, when non-empty, starts a local HTTP listener exposing
	// /metrics and /health during an autobid session.
	MetricsAddr string `env:"LELANG_METRICS_ADDR"`
}

// Load reads configuration from the environment and fills in derived
// defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TokenPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.TokenPath = filepath.Join(home, ".lelang-cli", "token.json")
	}
	return &cfg, nil
}

// Validate checks the polling parameters against their allowed ranges.
func (c *Config) Validate() error {
	if c.PollingInterval < MinPollingInterval || c.PollingInterval > MaxPollingInterval {
		return fmt.Errorf("%w: %s not in [%s, %s]",
			ErrIntervalOutOfRange, c.PollingInterval, MinPollingInterval, MaxPollingInterval)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: got %d", ErrBadConcurrency, c.Concurrency)
	}
	return nil
}

// FetchTimeout is the per-request timeout for status polls, strictly
// shorter than the polling interval so a stuck request can never delay a
// worker past its next scheduled cycle.
func (c *Config) FetchTimeout() time.Duration {
	return c.PollingInterval * 9 / 10
}
