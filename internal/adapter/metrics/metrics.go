package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "survey_sentinel"

// IngestMetrics holds the Prometheus metrics of the ingest service.
type IngestMetrics struct {
	EventsTotal       *prometheus.CounterVec
	BatchesTotal      *prometheus.CounterVec
	BytesTotal        prometheus.Counter
	WALActive         prometheus.Gauge
	APIKeyCacheHits   prometheus.Counter
	APIKeyCacheMisses prometheus.Counter
	JobsEnqueued      *prometheus.CounterVec
	JobsDropped       *prometheus.CounterVec
	WALReplayed       prometheus.Counter
}

// NewIngestMetrics registers the ingest collectors on reg.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	f := promauto.With(reg)
	return &IngestMetrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of received capture events by outcome.",
		}, []string{"status"}), // status: accepted, skipped, spooled, failed
		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Total number of capture batches by outcome.",
		}, []string{"status"}), // status: ok, error_parse, error_size, error_media_type
		BytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total number of request body bytes ingested.",
		}),
		WALActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "wal_active_gauge",
			Help:      "1 while raw events are being spooled to the local WAL.",
		}),
		APIKeyCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
		JobsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs accepted by the broker.",
		}, []string{"queue"}),
		JobsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_dropped_total",
			Help:      "Total number of jobs dropped because the broker was unavailable.",
		}, []string{"queue"}),
		WALReplayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "replayed_events_total",
			Help:      "Total number of spooled raw events written back to the store.",
		}),
	}
}

// Event counts one event outcome.
func (m *IngestMetrics) Event(status string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(status).Inc()
}

// Batch counts one batch outcome and its size.
func (m *IngestMetrics) Batch(status string, bytes int) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		m.BytesTotal.Add(float64(bytes))
	}
}

// Enqueued counts an accepted job.
func (m *IngestMetrics) Enqueued(queue string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(queue).Inc()
}

// Dropped counts a job that was not enqueued.
func (m *IngestMetrics) Dropped(queue string) {
	if m == nil {
		return
	}
	m.JobsDropped.WithLabelValues(queue).Inc()
}

// SetWALActive flips the WAL gauge.
func (m *IngestMetrics) SetWALActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.WALActive.Set(1)
		return
	}
	m.WALActive.Set(0)
}

// APIKeyLookup counts a cache hit or miss.
func (m *IngestMetrics) APIKeyLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.APIKeyCacheHits.Inc()
		return
	}
	m.APIKeyCacheMisses.Inc()
}

// Replayed counts spooled events written back to the store.
func (m *IngestMetrics) Replayed(n int) {
	if m == nil {
		return
	}
	m.WALReplayed.Add(float64(n))
}

// WorkerMetrics holds the Prometheus metrics of the consumer process.
type WorkerMetrics struct {
	JobsProcessed   *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	ScorerFallbacks prometheus.Counter
	RiskCacheHits   prometheus.Counter
	RiskCacheMisses prometheus.Counter
	RetrainTriggers prometheus.Counter
}

// NewWorkerMetrics registers the worker collectors on reg.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	f := promauto.With(reg)
	return &WorkerMetrics{
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Total number of job deliveries by outcome.",
		}, []string{"queue", "outcome"}), // outcome: done, retried, dead_lettered
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Handler run time per job delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		ScorerFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scorer",
			Name:      "fallbacks_total",
			Help:      "Total number of submissions scored with the neutral fallback.",
		}),
		RiskCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "cache_hits_total",
			Help:      "Total number of IP risk cache hits.",
		}),
		RiskCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "cache_misses_total",
			Help:      "Total number of IP risk cache misses.",
		}),
		RetrainTriggers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "retraining_triggers_total",
			Help:      "Total number of model retraining signals emitted.",
		}),
	}
}

// Job records one handled delivery.
func (m *WorkerMetrics) Job(queue, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(queue, outcome).Inc()
	m.JobDuration.WithLabelValues(queue).Observe(took.Seconds())
}

// ScorerFallback counts a neutral-score fallback.
func (m *WorkerMetrics) ScorerFallback() {
	if m == nil {
		return
	}
	m.ScorerFallbacks.Inc()
}

// RiskLookup counts a risk cache hit or miss.
func (m *WorkerMetrics) RiskLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.RiskCacheHits.Inc()
		return
	}
	m.RiskCacheMisses.Inc()
}

// Retrain counts a retraining signal.
func (m *WorkerMetrics) Retrain() {
	if m == nil {
		return
	}
	m.RetrainTriggers.Inc()
}
