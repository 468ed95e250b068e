package config

// Config aggregates everything the cmd/facilitator and cmd/resourceserver
// binaries need, assembled from defaults, an optional YAML file, and
// environment variable overrides, in that order of increasing precedence.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Facilitator    FacilitatorConfig    `yaml:"facilitator"`
	Networks       map[string]NetworkConfig `yaml:"networks"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// ServerConfig holds HTTP server configuration shared by both binaries.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`
	MetricsAPIKey       string   `yaml:"metrics_api_key"` // optional, protects /metrics if set
}

// LoggingConfig controls the zerolog logger cmd/ binaries build at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// FacilitatorConfig configures either a resource server's upstream
// facilitator client, or (when BaseURL is empty) the local scheme registry a
// facilitator binary serves directly.
type FacilitatorConfig struct {
	BaseURL       string   `yaml:"base_url"`
	AuthHeaderEnv string   `yaml:"auth_header_env"` // env var holding the Authorization header value
	VerifyTimeout Duration `yaml:"verify_timeout"`
	SettleTimeout Duration `yaml:"settle_timeout"`
	MaxRetries    int      `yaml:"max_retries"`
	RetryDelay    Duration `yaml:"retry_delay"`
}

// NetworkConfig describes one chain a facilitator binary settles payments
// on: where to reach it, which assets it accepts, and which env var holds
// the signing key it submits transactions with.
type NetworkConfig struct {
	RPCURL         string   `yaml:"rpc_url"`
	Assets         []string `yaml:"assets"`
	FeePayerKeyEnv string   `yaml:"fee_payer_key_env"`
}

// CircuitBreakerConfig tunes the gobreaker wrapped around the facilitator
// client's verify/settle calls. Zero values fall back to gobreaker's own
// defaults (single request in half-open, clear-never, 60s open timeout).
type CircuitBreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// RetryConfig tunes the facilitator client's retry package, layered under
// the circuit breaker (retries only ever run while the breaker is closed).
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}
