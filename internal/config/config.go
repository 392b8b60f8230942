// Package config provides configuration loading for the task agent.
//
// Configuration is built once at startup from an optional YAML file and
// TASKAGENT_* environment variables, then passed by value to the services
// that need it. Nothing reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete task agent configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Model     ModelConfig     `koanf:"model"`
	Cases     StoreConfig     `koanf:"cases"`
	Tasks     StoreConfig     `koanf:"tasks"`
	Redaction RedactionConfig `koanf:"redaction"`
	Events    EventsConfig    `koanf:"events"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RequestTimeout bounds a whole Process call, downstream writes included.
	RequestTimeout Duration `koanf:"request_timeout"`
	// IdempotencyTTL is how long a response is replayed for a repeated
	// Idempotency-Key header. Zero disables replay.
	IdempotencyTTL Duration `koanf:"idempotency_ttl"`
}

// ModelConfig configures the completion backend used by the model extractor.
type ModelConfig struct {
	Provider    string   `koanf:"provider"` // "openai", "anthropic", "langchain", "disabled"
	APIKey      Secret   `koanf:"api_key"`
	BaseURL     string   `koanf:"base_url"`
	Model       string   `koanf:"model"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	MaxRetries  int      `koanf:"max_retries"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`

	BreakerFailures int      `koanf:"breaker_failures"`
	BreakerCooldown Duration `koanf:"breaker_cooldown"`
}

// Configured reports whether the model path has what it needs to run.
// The langchain provider targets self-hosted endpoints and only needs a URL.
func (m ModelConfig) Configured() bool {
	switch m.Provider {
	case "openai", "anthropic":
		return m.APIKey.IsSet()
	case "langchain":
		return m.BaseURL != ""
	default:
		return false
	}
}

// StoreConfig configures an HTTP client for the case or task store.
type StoreConfig struct {
	BaseURL     string   `koanf:"base_url"`
	Timeout     Duration `koanf:"timeout"`
	MaxAttempts int      `koanf:"max_attempts"`
	BaseBackoff Duration `koanf:"base_backoff"`
}

// RedactionConfig controls secret redaction of text sent to the model.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// EventsConfig configures processing event publication.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds the subset of logger settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := seed()
	applyDefaults(&cfg)
	return &cfg
}

// seed holds defaults whose zero value is a legitimate setting. They are
// set before the file and environment are read, so an explicit zero
// survives.
func seed() Config {
	return Config{
		Model: ModelConfig{
			Temperature: 0.1,
			MaxRetries:  1,
		},
		Redaction: RedactionConfig{Enabled: true},
	}
}

// applyDefaults fills zero values for settings where zero means unset.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8004
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = Duration(30 * time.Second)
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "openai"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 1024
	}
	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = Duration(15 * time.Second)
	}
	if cfg.Model.RateLimit == 0 {
		cfg.Model.RateLimit = 50.0 / 60.0
	}
	if cfg.Model.Burst == 0 {
		cfg.Model.Burst = 5
	}
	if cfg.Model.BreakerFailures == 0 {
		cfg.Model.BreakerFailures = 5
	}
	if cfg.Model.BreakerCooldown == 0 {
		cfg.Model.BreakerCooldown = Duration(30 * time.Second)
	}

	if cfg.Cases.BaseURL == "" {
		cfg.Cases.BaseURL = "http://localhost:8002"
	}
	if cfg.Tasks.BaseURL == "" {
		cfg.Tasks.BaseURL = "http://localhost:8003"
	}
	for _, s := range []*StoreConfig{&cfg.Cases, &cfg.Tasks} {
		if s.Timeout == 0 {
			s.Timeout = Duration(10 * time.Second)
		}
		if s.MaxAttempts == 0 {
			s.MaxAttempts = 3
		}
		if s.BaseBackoff == 0 {
			s.BaseBackoff = Duration(100 * time.Millisecond)
		}
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "taskagent"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "taskagent"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	switch c.Model.Provider {
	case "openai", "anthropic", "langchain", "disabled":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Model.MaxRetries < 0 || c.Model.MaxRetries > 3 {
		return fmt.Errorf("model max_retries must be between 0 and 3, got %d", c.Model.MaxRetries)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model temperature must be between 0 and 2, got %v", c.Model.Temperature)
	}
	if c.Model.RateLimit <= 0 || c.Model.Burst <= 0 {
		return errors.New("model rate_limit and burst must be positive")
	}
	if c.Model.Provider != "disabled" && c.Model.Timeout >= c.Server.RequestTimeout {
		return fmt.Errorf("model timeout (%s) must be shorter than server request_timeout (%s)",
			c.Model.Timeout, c.Server.RequestTimeout)
	}

	for name, s := range map[string]StoreConfig{"cases": c.Cases, "tasks": c.Tasks} {
		u, err := url.Parse(s.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s.base_url must be an absolute URL, got %q", name, s.BaseURL)
		}
		if s.MaxAttempts < 1 {
			return fmt.Errorf("%s.max_attempts must be at least 1", name)
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}

	return nil
}
