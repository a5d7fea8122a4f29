package config

import (
	"fmt"
)

// Validator checks a resolved Config, failing fast at the first problem so
// startup errors point at one concrete field.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation.
func (v *Validator) ValidateAll() error {
	if err := v.validateTargets(); err != nil {
		return err
	}
	if err := v.validateTracker(); err != nil {
		return err
	}
	if err := v.validateTickets(); err != nil {
		return err
	}
	if err := v.validateSimilarity(); err != nil {
		return err
	}
	if err := v.validateCache(); err != nil {
		return err
	}
	if err := v.validatePipeline(); err != nil {
		return err
	}
	if err := v.validateCircuit(); err != nil {
		return err
	}
	return v.validateSlack()
}

func (v *Validator) validateTargets() error {
	if v.cfg.RunInterval <= 0 {
		return NewValidationError("triago", "run_interval",
			fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	if len(v.cfg.Profiles) == 0 {
		if v.cfg.Service == "" {
			return NewValidationError("triago", "service", ErrMissingRequiredField)
		}
		return nil
	}
	for i, p := range v.cfg.Profiles {
		if p.Service == "" {
			return NewValidationError("profiles", fmt.Sprintf("[%d].service", i), ErrMissingRequiredField)
		}
		if p.MaxTicketsPerRun != nil && *p.MaxTicketsPerRun < 0 {
			return NewValidationError("profiles", fmt.Sprintf("[%d].max_tickets_per_run", i),
				fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
		}
	}
	return nil
}

func (v *Validator) validateTracker() error {
	t := v.cfg.Tracker
	if t.BaseURL == "" {
		return NewValidationError("tracker", "base_url", ErrMissingRequiredField)
	}
	if t.Project == "" {
		return NewValidationError("tracker", "project", ErrMissingRequiredField)
	}
	if t.SearchMaxResults <= 0 {
		return NewValidationError("tracker", "search_max_results",
			fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	if t.SearchWindowDays <= 0 {
		return NewValidationError("tracker", "search_window_days",
			fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateTickets() error {
	t := v.cfg.Tickets
	if t.MaxTicketsPerRun < 0 {
		return NewValidationError("tickets", "max_tickets_per_run",
			fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if t.CommentCooldownMinutes < 0 {
		return NewValidationError("tickets", "comment_cooldown_minutes",
			fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateSimilarity() error {
	s := v.cfg.Similarity
	for field, val := range map[string]float64{
		"similarity_threshold":  s.SimilarityThreshold,
		"direct_log_threshold":  s.DirectLogThreshold,
		"partial_log_threshold": s.PartialLogThreshold,
	} {
		if val <= 0 || val > 1 {
			return NewValidationError("similarity", field,
				fmt.Errorf("%w: must be in (0, 1]", ErrInvalidValue))
		}
	}
	return nil
}

func (v *Validator) validateCache() error {
	switch v.cfg.Cache.Backend {
	case "memory", "file", "distributed":
	default:
		return NewValidationError("cache", "backend",
			fmt.Errorf("%w: %q (want memory, file, or distributed)", ErrInvalidValue, v.cfg.Cache.Backend))
	}
	if v.cfg.Cache.Backend == "distributed" && v.cfg.Cache.RedisAddr == "" {
		return NewValidationError("cache", "redis_addr", ErrMissingRequiredField)
	}
	if v.cfg.Cache.TTLSeconds < 0 {
		return NewValidationError("cache", "ttl_seconds",
			fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.Workers < 1 || p.Workers > 20 {
		return NewValidationError("pipeline", "workers",
			fmt.Errorf("%w: must be in [1, 20]", ErrInvalidValue))
	}
	if p.RatePerSecond <= 0 {
		return NewValidationError("pipeline", "rate_per_second",
			fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	if p.TaskTimeoutSeconds <= 0 {
		return NewValidationError("pipeline", "task_timeout_seconds",
			fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateCircuit() error {
	c := v.cfg.Circuit
	if c.FailureThreshold < 1 {
		return NewValidationError("circuit", "failure_threshold",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if c.TimeoutSeconds < 1 {
		return NewValidationError("circuit", "timeout_seconds",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if c.HalfOpenMaxCalls < 1 {
		return NewValidationError("circuit", "half_open_max_calls",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateSlack() error {
	if v.cfg.Slack.Enabled && v.cfg.Slack.Channel == "" {
		return NewValidationError("slack", "channel", ErrMissingRequiredField)
	}
	return nil
}
