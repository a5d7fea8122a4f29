// Package config loads, merges, and validates the triago.yaml configuration.
package config

import (
	"time"
)

// Config is the frozen, validated configuration the rest of the system
// reads. It is built once at startup; per-profile runs clone it via
// BuildProfile rather than mutating shared state.
type Config struct {
	Service     string
	Env         string
	CacheDir    string
	RunInterval time.Duration

	LogSource       LogSourceConfig
	Tracker         TrackerConfig
	LLM             LLMConfig
	Circuit         CircuitConfig
	FallbackEnabled bool
	Tickets         TicketsConfig
	Similarity      SimilarityConfig
	Cache           CacheConfig
	Pipeline        PipelineConfig
	Slack           SlackConfig
	API             APIConfig

	Profiles []Profile
}

// LogSourceConfig configures the log backend client.
type LogSourceConfig struct {
	Site         string        `yaml:"site"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	AppKeyEnv    string        `yaml:"app_key_env"`
	Window       time.Duration `yaml:"-"`
	FetchLimit   int           `yaml:"fetch_limit"`
	ExtraFilters []string      `yaml:"extra_filters"`
}

// TrackerConfig configures the issue tracker client.
type TrackerConfig struct {
	BaseURL          string `yaml:"base_url"`
	Project          string `yaml:"project"`
	IssueType        string `yaml:"issue_type"`
	UserEnv          string `yaml:"user_env"`
	TokenEnv         string `yaml:"token_env"`
	SearchMaxResults int    `yaml:"search_max_results"`
	SearchWindowDays int    `yaml:"search_window_days"`
}

// LLMConfig configures the analysis model.
type LLMConfig struct {
	Model         string            `yaml:"model"`
	APIKeyEnv     string            `yaml:"api_key_env"`
	MaxTokens     int               `yaml:"max_tokens"`
	Temperature   float64           `yaml:"temperature"`
	SeverityHints map[string]string `yaml:"severity_hints"`
}

// CircuitConfig configures the breaker guarding the LLM call.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	TimeoutSeconds   int `yaml:"timeout_seconds"`
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// TicketsConfig configures ticket creation behavior.
type TicketsConfig struct {
	MaxTicketsPerRun       int  `yaml:"max_tickets_per_run"`
	AutoCreateTicket       bool `yaml:"-"`
	CommentOnDuplicate     bool `yaml:"-"`
	CommentCooldownMinutes int  `yaml:"comment_cooldown_minutes"`
	PersistOnDryRun        bool `yaml:"-"`
	TitleMaxLen            int  `yaml:"title_max_len"`
}

// SimilarityConfig holds the similarity decision gates.
type SimilarityConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	DirectLogThreshold  float64 `yaml:"direct_log_threshold"`
	PartialLogThreshold float64 `yaml:"partial_log_threshold"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend    string `yaml:"backend"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	// Dir is where the file backend stores entries; defaults under
	// cache_dir.
	Dir         string `yaml:"dir"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	Capacity    int    `yaml:"capacity"`
}

// PipelineConfig bounds the worker pool.
type PipelineConfig struct {
	Workers            int     `yaml:"workers"`
	RatePerSecond      float64 `yaml:"rate_per_second"`
	TaskTimeoutSeconds int     `yaml:"task_timeout_seconds"`
}

// SlackConfig holds run-summary notification settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"-"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// APIConfig holds the ops HTTP server settings.
type APIConfig struct {
	Enabled    bool   `yaml:"-"`
	ListenAddr string `yaml:"listen_addr"`
}

// Profile is one service/env pair the scheduler iterates, with optional
// per-profile overrides.
type Profile struct {
	Service          string   `yaml:"service"`
	Env              string   `yaml:"env"`
	ExtraFilters     []string `yaml:"extra_filters"`
	MaxTicketsPerRun *int     `yaml:"max_tickets_per_run"`
	AutoCreateTicket *bool    `yaml:"auto_create_ticket"`
	FetchLimit       *int     `yaml:"fetch_limit"`
	Workers          *int     `yaml:"workers"`
}

// BuildProfile returns a copy of the config specialized for one profile.
// The receiver is never mutated.
func (c *Config) BuildProfile(p Profile) Config {
	out := *c
	out.Service = p.Service
	out.Env = p.Env
	if len(p.ExtraFilters) > 0 {
		out.LogSource.ExtraFilters = append(append([]string(nil), c.LogSource.ExtraFilters...), p.ExtraFilters...)
	}
	if p.MaxTicketsPerRun != nil {
		out.Tickets.MaxTicketsPerRun = *p.MaxTicketsPerRun
	}
	if p.AutoCreateTicket != nil {
		out.Tickets.AutoCreateTicket = *p.AutoCreateTicket
	}
	if p.FetchLimit != nil {
		out.LogSource.FetchLimit = *p.FetchLimit
	}
	if p.Workers != nil {
		out.Pipeline.Workers = *p.Workers
	}
	out.Profiles = nil
	return out
}

// RunProfiles returns the effective profile list: the configured profiles,
// or a single profile from the top-level service/env when none are listed.
func (c *Config) RunProfiles() []Profile {
	if len(c.Profiles) > 0 {
		return c.Profiles
	}
	return []Profile{{Service: c.Service, Env: c.Env}}
}
