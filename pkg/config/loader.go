package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single configuration file triago reads.
const ConfigFileName = "triago.yaml"

// triagoYAMLConfig mirrors the triago.yaml file structure. Boolean options
// whose default is true are pointers so an explicit `false` survives the
// merge with defaults.
type triagoYAMLConfig struct {
	Service         string             `yaml:"service"`
	Env             string             `yaml:"env"`
	CacheDir        string             `yaml:"cache_dir"`
	RunInterval     string             `yaml:"run_interval"`
	LogSource       *logSourceYAML     `yaml:"log_source"`
	Tracker         *TrackerConfig     `yaml:"tracker"`
	LLM             *LLMConfig         `yaml:"llm"`
	Circuit         *CircuitConfig     `yaml:"circuit"`
	FallbackEnabled *bool              `yaml:"fallback_enabled"`
	Tickets         *ticketsYAML       `yaml:"tickets"`
	Similarity      *SimilarityConfig  `yaml:"similarity"`
	Cache           *CacheConfig       `yaml:"cache"`
	Pipeline        *PipelineConfig    `yaml:"pipeline"`
	Slack           *slackYAML         `yaml:"slack"`
	API             *apiYAML           `yaml:"api"`
	Profiles        []Profile          `yaml:"profiles"`
}

type logSourceYAML struct {
	LogSourceConfig `yaml:",inline"`
	Window          string `yaml:"window"` // parsed to time.Duration
}

type ticketsYAML struct {
	MaxTicketsPerRun       *int  `yaml:"max_tickets_per_run"`
	AutoCreateTicket       *bool `yaml:"auto_create_ticket"`
	CommentOnDuplicate     *bool `yaml:"comment_on_duplicate"`
	CommentCooldownMinutes *int  `yaml:"comment_cooldown_minutes"`
	PersistOnDryRun        *bool `yaml:"persist_on_dry_run"`
	TitleMaxLen            int   `yaml:"title_max_len"`
}

type slackYAML struct {
	Enabled  *bool  `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

type apiYAML struct {
	Enabled    *bool  `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Initialize loads, merges, and validates configuration from configDir.
// This is the primary entry point:
//
//  1. Read triago.yaml
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	raw, err := loadYAMLFile(configDir)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	cfg, err := resolve(raw)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"service", cfg.Service,
		"env", cfg.Env,
		"profiles", len(cfg.RunProfiles()),
		"auto_create", cfg.Tickets.AutoCreateTicket)
	return cfg, nil
}

func loadYAMLFile(configDir string) (*triagoYAMLConfig, error) {
	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var raw triagoYAMLConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &raw, nil
}

// resolve merges the parsed YAML over the built-in defaults.
func resolve(raw *triagoYAMLConfig) (*Config, error) {
	cfg := DefaultConfig()

	cfg.Service = raw.Service
	cfg.Env = raw.Env
	if raw.CacheDir != "" {
		cfg.CacheDir = raw.CacheDir
	}
	if raw.RunInterval != "" {
		d, err := time.ParseDuration(raw.RunInterval)
		if err != nil {
			return nil, fmt.Errorf("%w: run_interval: %v", ErrInvalidValue, err)
		}
		cfg.RunInterval = d
	}

	if raw.LogSource != nil {
		if err := mergo.Merge(&cfg.LogSource, raw.LogSource.LogSourceConfig, mergo.WithOverride); err != nil {
			return nil, err
		}
		if raw.LogSource.Window != "" {
			d, err := time.ParseDuration(raw.LogSource.Window)
			if err != nil {
				return nil, fmt.Errorf("%w: log_source.window: %v", ErrInvalidValue, err)
			}
			cfg.LogSource.Window = d
		}
	}
	if raw.Tracker != nil {
		if err := mergo.Merge(&cfg.Tracker, *raw.Tracker, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.LLM != nil {
		if err := mergo.Merge(&cfg.LLM, *raw.LLM, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Circuit != nil {
		if err := mergo.Merge(&cfg.Circuit, *raw.Circuit, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Similarity != nil {
		if err := mergo.Merge(&cfg.Similarity, *raw.Similarity, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Cache != nil {
		if err := mergo.Merge(&cfg.Cache, *raw.Cache, mergo.WithOverride); err != nil {
			return nil, err
		}
	}
	if raw.Pipeline != nil {
		if err := mergo.Merge(&cfg.Pipeline, *raw.Pipeline, mergo.WithOverride); err != nil {
			return nil, err
		}
	}

	if raw.FallbackEnabled != nil {
		cfg.FallbackEnabled = *raw.FallbackEnabled
	}
	resolveTickets(cfg, raw.Tickets)
	resolveSlack(cfg, raw.Slack)
	resolveAPI(cfg, raw.API)

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.CacheDir, "cache")
	}

	cfg.Profiles = raw.Profiles
	return cfg, nil
}

func resolveTickets(cfg *Config, t *ticketsYAML) {
	if t == nil {
		return
	}
	if t.MaxTicketsPerRun != nil {
		cfg.Tickets.MaxTicketsPerRun = *t.MaxTicketsPerRun
	}
	if t.AutoCreateTicket != nil {
		cfg.Tickets.AutoCreateTicket = *t.AutoCreateTicket
	}
	if t.CommentOnDuplicate != nil {
		cfg.Tickets.CommentOnDuplicate = *t.CommentOnDuplicate
	}
	if t.CommentCooldownMinutes != nil {
		cfg.Tickets.CommentCooldownMinutes = *t.CommentCooldownMinutes
	}
	if t.PersistOnDryRun != nil {
		cfg.Tickets.PersistOnDryRun = *t.PersistOnDryRun
	}
	if t.TitleMaxLen > 0 {
		cfg.Tickets.TitleMaxLen = t.TitleMaxLen
	}
}

func resolveSlack(cfg *Config, s *slackYAML) {
	if s == nil {
		return
	}
	if s.Enabled != nil {
		cfg.Slack.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.Slack.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Slack.Channel = s.Channel
	}
}

func resolveAPI(cfg *Config, a *apiYAML) {
	if a == nil {
		return
	}
	if a.Enabled != nil {
		cfg.API.Enabled = *a.Enabled
	}
	if a.ListenAddr != "" {
		cfg.API.ListenAddr = a.ListenAddr
	}
}
