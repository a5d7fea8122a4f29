// Triago log-triage daemon — fetches production error logs, classifies
// them, deduplicates against the issue tracker, and files tickets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/triago-ai/triago/pkg/analyze"
	"github.com/triago-ai/triago/pkg/api"
	"github.com/triago-ai/triago/pkg/audit"
	"github.com/triago-ai/triago/pkg/breaker"
	"github.com/triago-ai/triago/pkg/cache"
	"github.com/triago-ai/triago/pkg/config"
	"github.com/triago-ai/triago/pkg/dedup"
	"github.com/triago-ai/triago/pkg/fallback"
	"github.com/triago-ai/triago/pkg/llm"
	"github.com/triago-ai/triago/pkg/logsource"
	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/notify"
	"github.com/triago-ai/triago/pkg/pipeline"
	"github.com/triago-ai/triago/pkg/similarity"
	"github.com/triago-ai/triago/pkg/store"
	"github.com/triago-ai/triago/pkg/ticket"
	"github.com/triago-ai/triago/pkg/tracker"
	"github.com/triago-ai/triago/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// formatSeverityHints flattens the configured hint map into the prompt
// block, sorted for a stable rendering.
func formatSeverityHints(hints map[string]string) string {
	if len(hints) == 0 {
		return ""
	}
	keys := make([]string, 0, len(hints))
	for k := range hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, hints[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// app holds the long-lived components shared across runs. Per-profile
// pieces (ticket node, pipeline) are rebuilt each run from BuildProfile.
type app struct {
	cfg      *config.Config
	source   logsource.Source
	analyzer *analyze.Analyzer
	tracker  tracker.Tracker
	cascade  *dedup.Orchestrator
	fps      *store.FingerprintStore
	sink     audit.Sink
	metrics  *pipeline.Metrics
	notifier *notify.Service
	logger   *slog.Logger

	runMu    sync.Mutex
	statMu   sync.Mutex
	lastStat pipeline.Snapshot
}

// runAll executes one triage run per configured profile. Profile failures
// are logged and do not stop the remaining profiles.
func (a *app) runAll(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	var lastErr error
	for _, p := range a.cfg.RunProfiles() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := a.runProfile(ctx, p); err != nil {
			a.logger.Error("profile run failed",
				"service", p.Service, "env", p.Env, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (a *app) runProfile(ctx context.Context, p config.Profile) error {
	pcfg := a.cfg.BuildProfile(p)

	node := ticket.NewNode(a.tracker, a.cascade, a.fps, a.sink, ticket.Options{
		AutoCreate:         pcfg.Tickets.AutoCreateTicket,
		PersistOnDryRun:    pcfg.Tickets.PersistOnDryRun,
		CommentOnDuplicate: pcfg.Tickets.CommentOnDuplicate,
		CommentCooldown:    time.Duration(pcfg.Tickets.CommentCooldownMinutes) * time.Minute,
		TitleMaxLen:        pcfg.Tickets.TitleMaxLen,
	}, a.logger)

	pipe := pipeline.New(a.source, a.analyzer, node, a.sink, a.metrics, pipeline.Options{
		Service:          pcfg.Service,
		Env:              pcfg.Env,
		Window:           pcfg.LogSource.Window,
		FetchLimit:       pcfg.LogSource.FetchLimit,
		Workers:          pcfg.Pipeline.Workers,
		RatePerSecond:    pcfg.Pipeline.RatePerSecond,
		TaskTimeout:      time.Duration(pcfg.Pipeline.TaskTimeoutSeconds) * time.Second,
		MaxTicketsPerRun: pcfg.Tickets.MaxTicketsPerRun,
		ExtraFilters:     pcfg.LogSource.ExtraFilters,
		OnTicketCreated: func(ctx context.Context, issueKey, title string, severity models.Severity, fingerprint string) {
			a.notifier.NotifyTicketCreated(ctx, notify.TicketCreatedInput{
				IssueKey:    issueKey,
				Title:       title,
				Severity:    severity,
				Fingerprint: fingerprint,
			})
		},
	}, a.logger)

	summary, err := pipe.Run(ctx)

	a.statMu.Lock()
	a.lastStat = pipe.Stats()
	a.statMu.Unlock()

	if err != nil {
		return err
	}
	a.notifier.NotifyRunCompleted(ctx, summary)
	return nil
}

func (a *app) snapshot() pipeline.Snapshot {
	a.statMu.Lock()
	defer a.statMu.Unlock()
	return a.lastStat
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	once := flag.Bool("once", false,
		"Run a single triage cycle and exit instead of scheduling")
	flag.Parse()

	logger := slog.Default()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		logger.Info("Loaded environment", "path", envPath)
	}

	logger.Info("Starting triago",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Shared cache (dedup similarity scores), with backend downgrade
	cacheStore, backend, err := cache.New(ctx, cache.Options{
		Backend:        cache.Backend(cfg.Cache.Backend),
		MemoryCapacity: cfg.Cache.Capacity,
		FileDir:        cfg.Cache.Dir,
		RedisAddr:      cfg.Cache.RedisAddr,
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix: cfg.Cache.RedisPrefix,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize cache", "error", err)
		os.Exit(1)
	}
	logger.Info("Cache initialized", "backend", backend)

	// 3. Analysis chain: LLM client behind a circuit breaker, with the
	// deterministic rule fallback when enabled
	llmClient, err := llm.NewAnthropicClient(llm.Options{
		APIKeyEnv:   cfg.LLM.APIKeyEnv,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	brk := breaker.New("llm", breaker.Settings{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Circuit.TimeoutSeconds) * time.Second,
		HalfOpenMaxCalls: cfg.Circuit.HalfOpenMaxCalls,
	}, logger)

	var fb *fallback.Analyzer
	if cfg.FallbackEnabled {
		fb = fallback.NewAnalyzer()
	}
	analyzer := analyze.New(llmClient, brk, fb, formatSeverityHints(cfg.LLM.SeverityHints), logger)

	// 4. Log source and issue tracker clients
	source, err := logsource.NewDatadogClient(logsource.DatadogOptions{
		Site:   cfg.LogSource.Site,
		APIKey: os.Getenv(cfg.LogSource.APIKeyEnv),
		AppKey: os.Getenv(cfg.LogSource.AppKeyEnv),
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize log source client", "error", err)
		os.Exit(1)
	}

	trk, err := tracker.NewJiraClient(tracker.JiraOptions{
		BaseURL:   cfg.Tracker.BaseURL,
		Project:   cfg.Tracker.Project,
		IssueType: cfg.Tracker.IssueType,
		User:      os.Getenv(cfg.Tracker.UserEnv),
		Token:     os.Getenv(cfg.Tracker.TokenEnv),
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize tracker client", "error", err)
		os.Exit(1)
	}

	// 5. Persistent state: fingerprint store and audit log
	fps, err := store.Open(cfg.CacheDir, logger)
	if err != nil {
		logger.Error("Failed to open fingerprint store", "dir", cfg.CacheDir, "error", err)
		os.Exit(1)
	}
	logger.Info("Fingerprint store opened", "dir", cfg.CacheDir, "known", fps.Len())

	sink, err := audit.NewFileSink(cfg.CacheDir, logger)
	if err != nil {
		logger.Error("Failed to open audit log", "dir", cfg.CacheDir, "error", err)
		os.Exit(1)
	}

	// 6. Dedup cascade over the shared similarity engine
	eng := similarity.NewEngine(similarity.Config{
		SimilarityThreshold: cfg.Similarity.SimilarityThreshold,
		DirectLogThreshold:  cfg.Similarity.DirectLogThreshold,
		PartialLogThreshold: cfg.Similarity.PartialLogThreshold,
		CacheTTL:            time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	}, cacheStore, logger)
	cascade := dedup.NewCascade(fps, trk, eng, dedup.Options{
		SearchWindowDays: cfg.Tracker.SearchWindowDays,
		SearchMaxResults: cfg.Tracker.SearchMaxResults,
	}, logger)

	// 7. Metrics and notifications
	registry := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(registry)

	var notifier *notify.Service
	if cfg.Slack.Enabled {
		notifier = notify.NewService(notify.ServiceConfig{
			Token:      os.Getenv(cfg.Slack.TokenEnv),
			Channel:    cfg.Slack.Channel,
			TrackerURL: cfg.Tracker.BaseURL,
		})
	}
	if notifier == nil {
		logger.Info("Slack notifications disabled")
	}

	a := &app{
		cfg:      cfg,
		source:   source,
		analyzer: analyzer,
		tracker:  trk,
		cascade:  cascade,
		fps:      fps,
		sink:     sink,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
	}

	// 8. Ops HTTP server (non-blocking)
	if cfg.API.Enabled {
		srv := api.NewServer(api.Options{
			ListenAddr: cfg.API.ListenAddr,
			Runner:     a.runAll,
			Stats:      a.snapshot,
			Cache:      cacheStore,
			Registry:   registry,
		}, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("HTTP server error", "error", err)
			}
		}()
	}

	if *once {
		if err := a.runAll(ctx); err != nil {
			logger.Error("Triage run failed", "error", err)
		}
		logger.Info("Single run complete")
		return
	}

	// 9. Interval scheduler: run immediately, then every RunInterval until
	// a shutdown signal. The in-flight run finishes before exit.
	logger.Info("Scheduler started", "interval", cfg.RunInterval)
	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := a.runAll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("Triage run failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
			logger.Info("Shutdown complete")
			return
		}
	}

	logger.Info("Shutdown complete")
}
