/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config loads gateway configuration from the process environment.
//
// A .env file in the working directory is folded in first; real environment
// variables always win over .env entries, defaults fill the rest. Malformed
// values abort startup instead of being silently replaced.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          uint16 `env:"PORT" envDefault:"8080"`
	HealthPath    string `env:"HEALTH_PATH" envDefault:"/healthz"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"text"`
	SnippetLength int    `env:"CONVERSATION_SNIPPET_LENGTH" envDefault:"64"`

	// DatabaseURL empty means the durable paths are disabled and in-memory
	// stores are used instead.
	DatabaseURL string `env:"DATABASE_URL"`

	// SeedDB inserts the demo conversations at startup. Needs DatabaseURL.
	SeedDB bool `env:"SEED_DB"`

	// MetricsListen is the optional OpenMetrics listener endpoint
	// (host:port). Empty disables the listener; the JSON snapshot at
	// /metrics is always served.
	MetricsListen string `env:"METRICS_LISTEN"`

	MaxBodyBytes   int64 `env:"API_MAX_BODY_BYTES" envDefault:"262144"`
	MaxAttachments int   `env:"API_MAX_ATTACHMENTS" envDefault:"8"`

	RateLimitPerIPPerMin     int `env:"API_RATE_LIMIT_PER_IP_PER_MIN" envDefault:"120"`
	RateLimitPerSenderPerMin int `env:"API_RATE_LIMIT_PER_SENDER_PER_MIN" envDefault:"60"`

	BreakerErrorThreshold int `env:"API_BREAKER_ERROR_THRESHOLD" envDefault:"20"`
	BreakerOpenSecs       int `env:"API_BREAKER_OPEN_SECS" envDefault:"30"`

	ProviderTimeoutPct   int     `env:"API_PROVIDER_TIMEOUT_PCT"`
	ProviderErrorPct     int     `env:"API_PROVIDER_ERROR_PCT"`
	ProviderRatelimitPct int     `env:"API_PROVIDER_RATELIMIT_PCT"`
	ProviderSeed         *uint64 `env:"API_PROVIDER_SEED"`

	ProviderSMSTimeoutPct   *int    `env:"API_PROVIDER_SMS_TIMEOUT_PCT"`
	ProviderSMSErrorPct     *int    `env:"API_PROVIDER_SMS_ERROR_PCT"`
	ProviderSMSRatelimitPct *int    `env:"API_PROVIDER_SMS_RATELIMIT_PCT"`
	ProviderSMSSeed         *uint64 `env:"API_PROVIDER_SMS_SEED"`

	ProviderEmailTimeoutPct   *int    `env:"API_PROVIDER_EMAIL_TIMEOUT_PCT"`
	ProviderEmailErrorPct     *int    `env:"API_PROVIDER_EMAIL_ERROR_PCT"`
	ProviderEmailRatelimitPct *int    `env:"API_PROVIDER_EMAIL_RATELIMIT_PCT"`
	ProviderEmailSeed         *uint64 `env:"API_PROVIDER_EMAIL_SEED"`

	WorkerBatchSize        int `env:"API_WORKER_BATCH_SIZE" envDefault:"10"`
	WorkerClaimTimeoutSecs int `env:"API_WORKER_CLAIM_TIMEOUT_SECS" envDefault:"60"`
	WorkerMaxRetries       int `env:"API_WORKER_MAX_RETRIES" envDefault:"5"`
	WorkerBackoffBaseMs    int `env:"API_WORKER_BACKOFF_BASE_MS" envDefault:"500"`
}

// Source tells where a configuration value came from, for the startup log.
type Source int

const (
	SourceDefault Source = iota
	SourceEnv
	SourceDotenv
)

func (s Source) String() string {
	switch s {
	case SourceEnv:
		return "env"
	case SourceDotenv:
		return "dotenv"
	default:
		return "default"
	}
}

// Sources records the origin of the basic serving options.
type Sources struct {
	Port       Source
	HealthPath Source
	LogLevel   Source
}

// Load reads the .env file (if any) and the process environment and returns
// the validated configuration together with value source attribution.
func Load() (*Config, Sources, error) {
	prePort := envPresent("PORT")
	preHealth := envPresent("HEALTH_PATH")
	preLog := envPresent("LOG_LEVEL")

	// Missing .env is fine; values already present in the environment are
	// not overwritten.
	_ = godotenv.Load()

	srcs := Sources{
		Port:       classify(prePort, envPresent("PORT")),
		HealthPath: classify(preHealth, envPresent("HEALTH_PATH")),
		LogLevel:   classify(preLog, envPresent("LOG_LEVEL")),
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, srcs, fmt.Errorf("config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, srcs, err
	}
	return cfg, srcs, nil
}

// fromEnviron parses cfg out of an explicit environment map. Used by tests;
// Load is the same thing over the process environment plus .env.
func fromEnviron(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		return fmt.Errorf("config: PORT must be in 1..=65535")
	}

	if strings.TrimSpace(c.HealthPath) == "" {
		c.HealthPath = "/healthz"
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		c.HealthPath = "/" + c.HealthPath
	}

	if c.SnippetLength < 1 || c.SnippetLength > 4096 {
		return fmt.Errorf("config: CONVERSATION_SNIPPET_LENGTH must be in 1..=4096, got %d", c.SnippetLength)
	}

	c.LogLevel = strings.ToLower(c.LogLevel)

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// Debug reports whether debug-level logging was requested.
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

// Faults is the effective fault-injection setting for one provider.
type Faults struct {
	TimeoutPct   int
	ErrorPct     int
	RatelimitPct int
	Seed         *uint64
}

// SMSFaults resolves the fault injection settings for the sms-mms provider:
// per-provider overrides win over the global API_PROVIDER_* values.
func (c *Config) SMSFaults() Faults {
	return Faults{
		TimeoutPct:   orInt(c.ProviderSMSTimeoutPct, c.ProviderTimeoutPct),
		ErrorPct:     orInt(c.ProviderSMSErrorPct, c.ProviderErrorPct),
		RatelimitPct: orInt(c.ProviderSMSRatelimitPct, c.ProviderRatelimitPct),
		Seed:         orSeed(c.ProviderSMSSeed, c.ProviderSeed),
	}
}

// EmailFaults is SMSFaults for the email provider.
func (c *Config) EmailFaults() Faults {
	return Faults{
		TimeoutPct:   orInt(c.ProviderEmailTimeoutPct, c.ProviderTimeoutPct),
		ErrorPct:     orInt(c.ProviderEmailErrorPct, c.ProviderErrorPct),
		RatelimitPct: orInt(c.ProviderEmailRatelimitPct, c.ProviderRatelimitPct),
		Seed:         orSeed(c.ProviderEmailSeed, c.ProviderSeed),
	}
}

func orInt(override *int, global int) int {
	if override != nil {
		return *override
	}
	return global
}

func orSeed(override, global *uint64) *uint64 {
	if override != nil {
		return override
	}
	return global
}

func envPresent(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func classify(pre, post bool) Source {
	switch {
	case pre:
		return SourceEnv
	case post:
		return SourceDotenv
	default:
		return SourceDefault
	}
}
