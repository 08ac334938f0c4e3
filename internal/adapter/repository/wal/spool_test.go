package wal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openSpool(t *testing.T, dir string, segmentMax, totalMax int64) *Spool {
	t.Helper()
	s, err := Open(dir, segmentMax, totalMax, discard())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newEvent(typ domain.EventType, payload domain.Payload) domain.RawEvent {
	return domain.RawEvent{
		ID:         uuid.NewString(),
		SurveyID:   "survey-1",
		SessionID:  "session-1",
		Type:       typ,
		Timestamp:  time.Now().UnixMilli(),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

func writeAll(t *testing.T, s *Spool, events ...domain.RawEvent) {
	t.Helper()
	for _, e := range events {
		if err := s.Write(context.Background(), e); err != nil {
			t.Fatalf("Write(%s) error = %v", e.ID, err)
		}
	}
}

func collect(t *testing.T, s *Spool, batchSize int) ([]domain.RawEvent, int) {
	t.Helper()
	var got []domain.RawEvent
	calls := 0
	err := s.Drain(context.Background(), batchSize, func(batch []domain.RawEvent) error {
		calls++
		got = append(got, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	return got, calls
}

func TestSpool_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first := openSpool(t, dir, 1024, 10*1024)

	events := []domain.RawEvent{
		newEvent(domain.EventMouseMove, &domain.PointerPayload{X: 1, Y: 2, Velocity: 0.5}),
		newEvent(domain.EventKeystroke, &domain.KeystrokePayload{KeyClass: domain.KeyClassCharacter, DwellTime: 80, FlightTime: 120}),
		newEvent(domain.EventPageViewed, nil),
	}
	writeAll(t, first, events...)
	first.Close()

	reopened := openSpool(t, dir, 1024, 10*1024)
	if !reopened.Pending() {
		t.Fatal("spooled events should be pending after a restart")
	}

	got, _ := collect(t, reopened, 0)
	if len(got) != len(events) {
		t.Fatalf("drained %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].ID != events[i].ID || got[i].Type != events[i].Type {
			t.Errorf("event %d = %s/%s, want %s/%s", i, got[i].ID, got[i].Type, events[i].ID, events[i].Type)
		}
	}
	if ks, ok := got[1].Payload.(*domain.KeystrokePayload); !ok || ks.DwellTime != 80 {
		t.Errorf("keystroke payload lost in the round trip: %#v", got[1].Payload)
	}
	if reopened.Pending() || reopened.Size() != 0 {
		t.Errorf("spool should be empty after drain, size = %d", reopened.Size())
	}
}

func TestSpool_RotatesAndKeepsSequence(t *testing.T) {
	dir := t.TempDir()
	s := openSpool(t, dir, 100, 100*1024)
	for i := 0; i < 3; i++ {
		writeAll(t, s, newEvent(domain.EventPageViewed, nil))
	}
	if len(s.segments) != 3 {
		t.Fatalf("segments = %d, want one per oversized record", len(s.segments))
	}
	s.Close()

	reopened := openSpool(t, dir, 100, 100*1024)
	writeAll(t, reopened, newEvent(domain.EventPageViewed, nil))

	last := reopened.segments[len(reopened.segments)-1]
	if last.seq != 3 {
		t.Errorf("new segment seq = %d, want 3", last.seq)
	}
	if filepath.Base(last.path) != segmentName(3) {
		t.Errorf("segment file = %s", filepath.Base(last.path))
	}
}

func TestSpool_DrainBatches(t *testing.T) {
	s := openSpool(t, t.TempDir(), 1<<20, 1<<20)
	for i := 0; i < 5; i++ {
		writeAll(t, s, newEvent(domain.EventScroll, &domain.ScrollPayload{Y: float64(i * 10)}))
	}

	got, calls := collect(t, s, 2)
	if len(got) != 5 {
		t.Errorf("drained %d events, want 5", len(got))
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3 (2+2+1)", calls)
	}
}

func TestSpool_FailedDrainKeepsUncommittedSegments(t *testing.T) {
	s := openSpool(t, t.TempDir(), 100, 100*1024)
	events := []domain.RawEvent{
		newEvent(domain.EventSurveyStarted, nil),
		newEvent(domain.EventPageViewed, nil),
		newEvent(domain.EventPageViewed, nil),
	}
	writeAll(t, s, events...)

	calls := 0
	err := s.Drain(context.Background(), 1, func(batch []domain.RawEvent) error {
		calls++
		if calls == 2 {
			return errors.New("store still down")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected drain error")
	}
	if len(s.segments) != 2 {
		t.Fatalf("segments after failed drain = %d, want 2", len(s.segments))
	}
	if _, err := os.Stat(s.segments[0].path); err != nil {
		t.Errorf("failed segment should stay on disk: %v", err)
	}

	got, _ := collect(t, s, 1)
	if len(got) != 2 || got[0].ID != events[1].ID || got[1].ID != events[2].ID {
		t.Errorf("second drain = %v, want the two uncommitted events", got)
	}
}

func TestSpool_SkipsTornRecord(t *testing.T) {
	dir := t.TempDir()
	s := openSpool(t, dir, 1<<20, 1<<20)
	ok := newEvent(domain.EventPageViewed, nil)
	writeAll(t, s, ok)
	s.Close()

	f, err := os.OpenFile(filepath.Join(dir, segmentName(0)), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"id":"half-writ`)
	f.Close()

	reopened := openSpool(t, dir, 1<<20, 1<<20)
	got, _ := collect(t, reopened, 0)
	if len(got) != 1 || got[0].ID != ok.ID {
		t.Errorf("drained %v, want only the intact record", got)
	}
}

func TestSpool_SizeLimit(t *testing.T) {
	s := openSpool(t, t.TempDir(), 100, 300)

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = s.Write(context.Background(), newEvent(domain.EventPageViewed, nil))
	}
	if !errors.Is(err, ErrDiskFull) {
		t.Fatalf("expected ErrDiskFull, got %v", err)
	}
}

func TestParseSegmentName(t *testing.T) {
	tests := []struct {
		name string
		seq  uint64
		ok   bool
	}{
		{segmentName(42), 42, true},
		{"spool-abc.ndjson", 0, false},
		{"segment-0001.log", 0, false},
		{"spool-0001.tmp", 0, false},
	}
	for _, tt := range tests {
		seq, ok := parseSegmentName(tt.name)
		if ok != tt.ok || seq != tt.seq {
			t.Errorf("parseSegmentName(%q) = %d, %v; want %d, %v", tt.name, seq, ok, tt.seq, tt.ok)
		}
	}
}
