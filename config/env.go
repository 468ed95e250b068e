package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies X402_-prefixed environment variables over
// whatever the YAML file (or defaults) already set. Env always wins.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "X402_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "X402_ROUTE_PREFIX")
	setIfEnv(&c.Server.MetricsAPIKey, "X402_METRICS_API_KEY")
	setDurationIfEnv(&c.Server.ReadTimeout, "X402_SERVER_READ_TIMEOUT")
	setDurationIfEnv(&c.Server.WriteTimeout, "X402_SERVER_WRITE_TIMEOUT")
	setDurationIfEnv(&c.Server.IdleTimeout, "X402_SERVER_IDLE_TIMEOUT")
	if v := os.Getenv("X402_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}

	setIfEnv(&c.Logging.Level, "X402_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "X402_LOG_FORMAT")

	setIfEnv(&c.Facilitator.BaseURL, "X402_FACILITATOR_BASE_URL")
	setIfEnv(&c.Facilitator.AuthHeaderEnv, "X402_FACILITATOR_AUTH_HEADER_ENV")
	setDurationIfEnv(&c.Facilitator.VerifyTimeout, "X402_FACILITATOR_VERIFY_TIMEOUT")
	setDurationIfEnv(&c.Facilitator.SettleTimeout, "X402_FACILITATOR_SETTLE_TIMEOUT")
	setIntIfEnv(&c.Facilitator.MaxRetries, "X402_FACILITATOR_MAX_RETRIES")
	setDurationIfEnv(&c.Facilitator.RetryDelay, "X402_FACILITATOR_RETRY_DELAY")

	setBoolIfEnv(&c.CircuitBreaker.Enabled, "X402_CIRCUIT_BREAKER_ENABLED")
	setDurationIfEnv(&c.CircuitBreaker.Interval, "X402_CIRCUIT_BREAKER_INTERVAL")
	setDurationIfEnv(&c.CircuitBreaker.Timeout, "X402_CIRCUIT_BREAKER_TIMEOUT")

	// Per-network overrides: X402_NETWORK_<NAME>_RPC_URL, _FEE_PAYER_KEY_ENV.
	// The network must already exist (from YAML) for these to apply; this
	// layer only overrides connection details, it never invents a network.
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "X402_NETWORK_") {
			continue
		}
		name, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		rest := strings.TrimPrefix(name, "X402_NETWORK_")

		for networkName, network := range c.Networks {
			upperName := strings.ToUpper(strings.ReplaceAll(networkName, "-", "_"))
			switch {
			case rest == upperName+"_RPC_URL":
				network.RPCURL = value
				c.Networks[networkName] = network
			case rest == upperName+"_FEE_PAYER_KEY_ENV":
				network.FeePayerKeyEnv = value
				c.Networks[networkName] = network
			}
		}
	}
}

func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
