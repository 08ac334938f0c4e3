package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONSUMER_NAME", "worker-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.IngestServerAddr != ":8080" {
		t.Errorf("IngestServerAddr = %q", cfg.IngestServerAddr)
	}
	if cfg.ScorerTimeout != 8*time.Second {
		t.Errorf("ScorerTimeout = %v, want 8s", cfg.ScorerTimeout)
	}
	if cfg.RiskCacheTTL != 24*time.Hour {
		t.Errorf("RiskCacheTTL = %v, want 24h", cfg.RiskCacheTTL)
	}
	if cfg.GeoIPRatePerMinute != 45 {
		t.Errorf("GeoIPRatePerMinute = %d, want 45", cfg.GeoIPRatePerMinute)
	}
	if cfg.RetrainThreshold != 1000 {
		t.Errorf("RetrainThreshold = %d, want 1000", cfg.RetrainThreshold)
	}
	if cfg.ConsumerName != "worker-1" {
		t.Errorf("ConsumerName = %q", cfg.ConsumerName)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("QUEUE_RECLAIM_IDLE", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RedisAddr != "redis://localhost:6379/0" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Errorf("WorkerConcurrency = %d, want clamp to 1", cfg.WorkerConcurrency)
	}
	if cfg.QueueReclaimIdle != 30*time.Second {
		t.Errorf("QueueReclaimIdle = %v", cfg.QueueReclaimIdle)
	}
	if cfg.ConsumerName == "" {
		t.Error("expected ConsumerName to default to hostname")
	}
}

func TestRedactionFields(t *testing.T) {
	cfg := &Config{PIIRedactionFields: " email, ,ssn ,"}
	got := cfg.RedactionFields()
	if len(got) != 2 || got[0] != "email" || got[1] != "ssn" {
		t.Errorf("RedactionFields() = %v", got)
	}
}
