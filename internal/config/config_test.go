package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.1, cfg.Model.Temperature)
	assert.Equal(t, "taskagent", cfg.Events.SubjectPrefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "request timeout"},
		{"unknown provider", func(c *Config) { c.Model.Provider = "magic" }, "unknown model provider"},
		{"too many retries", func(c *Config) { c.Model.MaxRetries = 10 }, "max_retries"},
		{"relative store url", func(c *Config) { c.Cases.BaseURL = "cases:8002" }, "cases.base_url"},
		{"zero attempts", func(c *Config) { c.Tasks.MaxAttempts = 0 }, "tasks.max_attempts"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
		{"model timeout outlasts request", func(c *Config) {
			c.Server.RequestTimeout = Duration(10 * time.Second)
			c.Model.Timeout = Duration(10 * time.Second)
		}, "must be shorter than server request_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DisabledModelIgnoresTimeout(t *testing.T) {
	cfg := Default()
	cfg.Model.Provider = "disabled"
	cfg.Model.Timeout = Duration(time.Minute)
	assert.NoError(t, cfg.Validate())
}

func TestModelConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  ModelConfig
		want bool
	}{
		{"openai with key", ModelConfig{Provider: "openai", APIKey: "sk-x"}, true},
		{"openai without key", ModelConfig{Provider: "openai"}, false},
		{"anthropic with key", ModelConfig{Provider: "anthropic", APIKey: "sk-ant-x"}, true},
		{"langchain with url", ModelConfig{Provider: "langchain", BaseURL: "http://ollama:11434/v1"}, true},
		{"langchain without url", ModelConfig{Provider: "langchain"}, false},
		{"disabled", ModelConfig{Provider: "disabled", APIKey: "sk-x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Configured())
		})
	}
}

func TestSecret_NeverRenders(t *testing.T) {
	s := Secret("sk-very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-very-secret")

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-very-secret")

	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
