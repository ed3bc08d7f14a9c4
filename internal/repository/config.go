package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/depot-io/depot/internal/config"
)

const (
	defaultRequestTimeout    = 30 * time.Second
	defaultRequestsPerSecond = 10
	defaultBurst             = 20
)

// ErrBaseURLEmpty is returned when the repository base URL is not configured.
var ErrBaseURLEmpty = errors.New("repository base URL cannot be empty")

// Config holds upstream Maven repository client configuration.
//
// Requests are rate limited client-side: scheduling passes fan out across
// projects and each one hits the upstream metadata endpoints, so the limiter
// caps the load the depot puts on the repository.
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond int // Sustained request rate against the upstream
	Burst             int // Short-burst allowance above the sustained rate
}

// LoadConfig loads repository client configuration from environment variables
// with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		BaseURL:           config.GetEnvStr("DEPOT_REPOSITORY_URL", ""),
		RequestTimeout:    config.GetEnvDuration("DEPOT_REPOSITORY_TIMEOUT", defaultRequestTimeout),
		RequestsPerSecond: config.GetEnvInt("DEPOT_REPOSITORY_RPS", defaultRequestsPerSecond),
		Burst:             config.GetEnvInt("DEPOT_REPOSITORY_BURST", defaultBurst),
	}
}

// Validate checks if the repository configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrBaseURLEmpty
	}

	return nil
}
