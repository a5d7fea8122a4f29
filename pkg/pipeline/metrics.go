package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports pipeline counters to Prometheus. A nil *Metrics is a
// no-op, so the pipeline works without a registry.
type Metrics struct {
	logsFetched    prometheus.Counter
	dedupHits      *prometheus.CounterVec
	ticketsCreated prometheus.Counter
	commentsAdded  prometheus.Counter
	capsHit        prometheus.Counter
	errors         prometheus.Counter
	taskDuration   prometheus.Histogram
	runsTotal      prometheus.Counter
}

// NewMetrics registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		logsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "triago_logs_fetched_total",
			Help: "Error logs fetched from the log backend.",
		}),
		dedupHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triago_dedup_hits_total",
			Help: "Duplicate verdicts by strategy.",
		}, []string{"strategy"}),
		ticketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "triago_tickets_created_total",
			Help: "Tracker tickets created.",
		}),
		commentsAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "triago_comments_added_total",
			Help: "Comments added to existing tickets.",
		}),
		capsHit: factory.NewCounter(prometheus.CounterOpts{
			Name: "triago_caps_hit_total",
			Help: "Logs skipped because the per-run ticket cap was reached.",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "triago_errors_total",
			Help: "Per-log tasks that ended in an error.",
		}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "triago_task_duration_seconds",
			Help:    "Per-log task duration.",
			Buckets: prometheus.DefBuckets,
		}),
		runsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "triago_runs_total",
			Help: "Completed pipeline runs.",
		}),
	}
}

func (m *Metrics) observeFetch(n int) {
	if m == nil {
		return
	}
	m.logsFetched.Add(float64(n))
}

func (m *Metrics) observeDedup(strategy string) {
	if m == nil || strategy == "" {
		return
	}
	m.dedupHits.WithLabelValues(strategy).Inc()
}

func (m *Metrics) observeTask(d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.Observe(d.Seconds())
}

func (m *Metrics) observeRun() {
	if m == nil {
		return
	}
	m.runsTotal.Inc()
}

func (m *Metrics) observeOutcome(created, commented, capped, failed bool) {
	if m == nil {
		return
	}
	if created {
		m.ticketsCreated.Inc()
	}
	if commented {
		m.commentsAdded.Inc()
	}
	if capped {
		m.capsHit.Inc()
	}
	if failed {
		m.errors.Inc()
	}
}
