package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Service = "orders"
	cfg.Tracker.BaseURL = "https://jira.example.com"
	cfg.Tracker.Project = "TRI"
	return cfg
}

func TestValidatorAcceptsDefaults(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidatorRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing service", func(c *Config) { c.Service = "" }, "service"},
		{"missing tracker url", func(c *Config) { c.Tracker.BaseURL = "" }, "base_url"},
		{"missing tracker project", func(c *Config) { c.Tracker.Project = "" }, "project"},
		{"negative cap", func(c *Config) { c.Tickets.MaxTicketsPerRun = -1 }, "max_tickets_per_run"},
		{"workers too high", func(c *Config) { c.Pipeline.Workers = 21 }, "workers"},
		{"workers zero", func(c *Config) { c.Pipeline.Workers = 0 }, "workers"},
		{"rate zero", func(c *Config) { c.Pipeline.RatePerSecond = 0 }, "rate_per_second"},
		{"threshold above one", func(c *Config) { c.Similarity.SimilarityThreshold = 1.2 }, "similarity_threshold"},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "s3" }, "backend"},
		{"distributed without addr", func(c *Config) { c.Cache.Backend = "distributed" }, "redis_addr"},
		{"breaker threshold zero", func(c *Config) { c.Circuit.FailureThreshold = 0 }, "failure_threshold"},
		{"slack without channel", func(c *Config) { c.Slack.Enabled = true }, "channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidatorProfileService(t *testing.T) {
	cfg := validConfig()
	cfg.Service = ""
	cfg.Profiles = []Profile{{Service: "orders"}, {Service: ""}}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "profiles", verr.Section)
}
