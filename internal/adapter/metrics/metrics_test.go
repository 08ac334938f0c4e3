package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIngestMetrics_Counters(t *testing.T) {
	m := NewIngestMetrics(prometheus.NewRegistry())

	m.Event("accepted")
	m.Event("accepted")
	m.Dropped("submission-analysis")
	m.SetWALActive(true)

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("accepted")); got != 2 {
		t.Errorf("accepted events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.JobsDropped.WithLabelValues("submission-analysis")); got != 1 {
		t.Errorf("dropped jobs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WALActive); got != 1 {
		t.Errorf("wal gauge = %v, want 1", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var im *IngestMetrics
	var wm *WorkerMetrics

	im.Event("accepted")
	im.Batch("ok", 10)
	im.Dropped("q")
	im.APIKeyLookup(true)
	wm.Job("q", "done", time.Second)
	wm.ScorerFallback()
	wm.RiskLookup(false)
}

func TestWorkerMetrics_Job(t *testing.T) {
	m := NewWorkerMetrics(prometheus.NewRegistry())
	m.Job("submission-analysis", "done", 10*time.Millisecond)
	m.ScorerFallback()

	if got := testutil.ToFloat64(m.JobsProcessed.WithLabelValues("submission-analysis", "done")); got != 1 {
		t.Errorf("processed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ScorerFallbacks); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}
