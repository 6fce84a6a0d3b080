package api

import (
	"fmt"
	"net/http"

	"github.com/travelmundo/credits/pkg/credits"
)

// Config holds configuration for the credits API handler
type Config struct {
	// Service is the credit service instance (required)
	Service *credits.Service

	// OnError overrides the default JSON error response.
	// If nil, errors map to status codes via handleError.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional; defaults to a no-op logger
	Logger credits.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	return nil
}

// NewHandler creates a new credits API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &credits.NoopLogger{}
	}
	return &Handler{config: config}, nil
}
