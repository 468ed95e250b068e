// Package config loads layered configuration for the x402 facilitator and
// resource-server binaries: a default baseline, an optional YAML file
// overlay, then environment variable overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from path (if non-empty), layers environment
// variable overrides on top, and validates the result. An empty path loads
// defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8402",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Facilitator: FacilitatorConfig{
			VerifyTimeout: Duration{Duration: 5 * time.Second},
			SettleTimeout: Duration{Duration: 60 * time.Second},
			RetryDelay:    Duration{Duration: 100 * time.Millisecond},
		},
		Networks: map[string]NetworkConfig{},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             true,
			MaxRequests:         3,
			Interval:            Duration{Duration: 60 * time.Second},
			Timeout:             Duration{Duration: 30 * time.Second},
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Retry: RetryConfig{
			MaxAttempts:     1,
			InitialInterval: Duration{Duration: 100 * time.Millisecond},
			MaxInterval:     Duration{Duration: 400 * time.Millisecond},
			Multiplier:      2.0,
		},
	}
}

func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// finalize fills in defaults that depend on other fields and validates the
// result.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8402"
	}
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = 2.0
	}

	return c.validate()
}

func (c *Config) validate() error {
	var errs []string

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug|info|warn|error", c.Logging.Level))
	}

	for name, network := range c.Networks {
		if network.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("networks.%s.rpc_url is required", name))
		}
		if len(network.Assets) == 0 {
			errs = append(errs, fmt.Sprintf("networks.%s.assets must list at least one token address", name))
		}
	}

	if c.Facilitator.BaseURL != "" && c.Facilitator.AuthHeaderEnv != "" {
		if os.Getenv(c.Facilitator.AuthHeaderEnv) == "" {
			errs = append(errs, fmt.Sprintf("facilitator.auth_header_env references %s, which is unset", c.Facilitator.AuthHeaderEnv))
		}
	}

	if c.CircuitBreaker.FailureRatio < 0 || c.CircuitBreaker.FailureRatio > 1 {
		errs = append(errs, "circuit_breaker.failure_ratio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end
// with one: "api" -> "/api", "/api/" -> "/api".
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
