package config

import "time"

// Built-in defaults applied before user YAML is merged on top.
const (
	DefaultCacheDir         = ".triago"
	DefaultRunInterval      = 15 * time.Minute
	DefaultWindow           = 24 * time.Hour
	DefaultFetchLimit       = 200
	DefaultMaxTicketsPerRun = 5
	DefaultCommentCooldown  = 60 // minutes
	DefaultSearchMaxResults = 200
	DefaultSearchWindowDays = 30
	DefaultCacheTTLSeconds  = 300
	DefaultCacheCapacity    = 1000
	DefaultListenAddr       = ":8080"
)

// DefaultConfig returns the configuration used when triago.yaml leaves a
// setting out.
func DefaultConfig() *Config {
	return &Config{
		CacheDir:    DefaultCacheDir,
		RunInterval: DefaultRunInterval,
		LogSource: LogSourceConfig{
			Site:       "api.datadoghq.com",
			APIKeyEnv:  "DD_API_KEY",
			AppKeyEnv:  "DD_APP_KEY",
			Window:     DefaultWindow,
			FetchLimit: DefaultFetchLimit,
		},
		Tracker: TrackerConfig{
			IssueType:        "Bug",
			UserEnv:          "JIRA_USER",
			TokenEnv:         "JIRA_TOKEN",
			SearchMaxResults: DefaultSearchMaxResults,
			SearchWindowDays: DefaultSearchWindowDays,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 1024,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 3,
			TimeoutSeconds:   30,
			HalfOpenMaxCalls: 2,
		},
		FallbackEnabled: true,
		Tickets: TicketsConfig{
			MaxTicketsPerRun:       DefaultMaxTicketsPerRun,
			AutoCreateTicket:       true,
			CommentOnDuplicate:     true,
			CommentCooldownMinutes: DefaultCommentCooldown,
			PersistOnDryRun:        true,
		},
		Similarity: SimilarityConfig{
			SimilarityThreshold: 0.82,
			DirectLogThreshold:  0.90,
			PartialLogThreshold: 0.70,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			TTLSeconds:  DefaultCacheTTLSeconds,
			Capacity:    DefaultCacheCapacity,
			RedisPrefix: "triago",
		},
		Pipeline: PipelineConfig{
			Workers:            3,
			RatePerSecond:      10,
			TaskTimeoutSeconds: 60,
		},
		Slack: SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
		API: APIConfig{
			ListenAddr: DefaultListenAddr,
		},
	}
}
