// Package api serves the operational HTTP surface: health, live
// statistics, on-demand run triggering, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/triago-ai/triago/pkg/cache"
	"github.com/triago-ai/triago/pkg/pipeline"
	"github.com/triago-ai/triago/pkg/version"
)

// Runner starts one triage pass over all configured profiles.
type Runner func(ctx context.Context) error

// Options configures the ops server.
type Options struct {
	ListenAddr string
	Runner     Runner
	// Stats returns the live pipeline counters.
	Stats func() pipeline.Snapshot
	// Cache is included in the stats response; may be nil.
	Cache cache.Store
	// Registry backs /metrics; may be nil to disable the endpoint.
	Registry *prometheus.Registry
}

// Server is the ops HTTP server. One on-demand run may be active at a
// time; concurrent triggers get 409.
type Server struct {
	opts    Options
	logger  *slog.Logger
	running atomic.Bool

	mu      sync.Mutex
	lastRun *runReport

	http *http.Server
}

type runReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewServer builds the ops server.
func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: logger.With("component", "api"),
	}
}

// Router assembles the gin engine. Exposed for tests.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/healthz", s.healthHandler)
	r.GET("/api/v1/stats", s.statsHandler)
	r.POST("/api/v1/runs", s.triggerRunHandler)
	if s.opts.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})))
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.opts.ListenAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Full(),
	})
}

func (s *Server) statsHandler(c *gin.Context) {
	resp := gin.H{
		"run_active": s.running.Load(),
	}
	if s.opts.Stats != nil {
		resp["pipeline"] = s.opts.Stats()
	}
	if s.opts.Cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		resp["cache"] = s.opts.Cache.Stats(ctx)
	}
	s.mu.Lock()
	if s.lastRun != nil {
		resp["last_run"] = s.lastRun
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) triggerRunHandler(c *gin.Context) {
	if s.opts.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runner not configured"})
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}

	report := &runReport{StartedAt: time.Now().UTC()}
	s.mu.Lock()
	s.lastRun = report
	s.mu.Unlock()

	go func() {
		defer s.running.Store(false)
		err := s.opts.Runner(context.Background())
		s.mu.Lock()
		report.FinishedAt = time.Now().UTC()
		if err != nil {
			report.Error = err.Error()
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("on-demand run failed", "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}
