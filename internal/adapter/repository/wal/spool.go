// Package wal spools raw capture events to local segment files while the
// event store is unreachable.
package wal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

const (
	segmentPrefix    = "spool-"
	segmentExt       = ".ndjson"
	segmentPerm      = 0o644
	maxRecordBytes   = 4 << 20
	defaultBatchSize = 256
)

// ErrDiskFull is returned when a write would push the spool past its size limit.
var ErrDiskFull = errors.New("wal: spool size limit reached")

type segment struct {
	seq  uint64
	path string
	size int64
}

// Spool is an append-only log of newline-delimited RawEvent records split
// into numbered segments. The newest segment is the write head.
type Spool struct {
	dir        string
	segmentMax int64
	totalMax   int64
	logger     *slog.Logger

	mu       sync.Mutex
	segments []*segment // oldest first
	head     *os.File
	total    int64
	nextSeq  uint64
}

// Open indexes the segments already in dir, creating it if needed.
func Open(dir string, segmentMax, totalMax int64, logger *slog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}
	s := &Spool{
		dir:        dir,
		segmentMax: segmentMax,
		totalMax:   totalMax,
		logger:     logger.With("component", "event_wal"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spool) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}
	for _, entry := range entries {
		seq, ok := parseSegmentName(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat WAL segment %s: %w", entry.Name(), err)
		}
		s.segments = append(s.segments, &segment{seq: seq, path: filepath.Join(s.dir, entry.Name()), size: info.Size()})
		s.total += info.Size()
	}
	sort.Slice(s.segments, func(i, j int) bool { return s.segments[i].seq < s.segments[j].seq })

	if n := len(s.segments); n > 0 {
		s.nextSeq = s.segments[n-1].seq + 1
		s.logger.Info("Found spooled events from a previous run", "segments", n, "bytes", s.total)
	}
	return nil
}

func segmentName(seq uint64) string {
	return fmt.Sprintf("%s%016d%s", segmentPrefix, seq, segmentExt)
}

func parseSegmentName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, segmentPrefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, segmentExt)
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(rest, 10, 64)
	return seq, err == nil
}

// Write appends one event to the write head.
func (s *Spool) Write(ctx context.Context, event domain.RawEvent) error {
	record, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s for WAL: %w", event.ID, err)
	}
	record = append(record, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total+int64(len(record)) > s.totalMax {
		return fmt.Errorf("%w: %d bytes spooled, limit %d", ErrDiskFull, s.total, s.totalMax)
	}
	seg, err := s.writable()
	if err != nil {
		return err
	}

	n, err := s.head.Write(record)
	seg.size += int64(n)
	s.total += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append to WAL segment %s: %w", filepath.Base(seg.path), err)
	}
	return nil
}

// writable returns the segment the next record goes to, opening a new one
// when the current tail is full or belongs to a closed head.
func (s *Spool) writable() (*segment, error) {
	if n := len(s.segments); n > 0 {
		tail := s.segments[n-1]
		if tail.size < s.segmentMax {
			if s.head != nil {
				return tail, nil
			}
			f, err := os.OpenFile(tail.path, os.O_APPEND|os.O_WRONLY, segmentPerm)
			if err == nil {
				s.head = f
				return tail, nil
			}
			s.logger.Warn("Could not reopen WAL tail segment, starting a new one", "segment", filepath.Base(tail.path), "error", err)
		}
	}
	if err := s.closeHead(); err != nil {
		s.logger.Error("Failed to close full WAL segment", "error", err)
	}

	seg := &segment{seq: s.nextSeq, path: filepath.Join(s.dir, segmentName(s.nextSeq))}
	f, err := os.OpenFile(seg.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, segmentPerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL segment %s: %w", seg.path, err)
	}
	s.nextSeq++
	s.segments = append(s.segments, seg)
	s.head = f
	s.logger.Debug("Opened WAL segment", "segment", filepath.Base(seg.path))
	return seg, nil
}

// Pending reports whether any spooled bytes wait for a drain.
func (s *Spool) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total > 0
}

// Size returns the number of spooled bytes.
func (s *Spool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Drain hands spooled events to handler oldest first and deletes each
// segment once all of its batches were accepted. Writes wait for the drain.
func (s *Spool) Drain(ctx context.Context, batchSize int, handler func(batch []domain.RawEvent) error) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeHead(); err != nil {
		s.logger.Error("Failed to close WAL head before drain", "error", err)
	}
	if len(s.segments) == 0 {
		return nil
	}

	drained := 0
	for len(s.segments) > 0 {
		seg := s.segments[0]
		n, err := s.replay(ctx, seg, batchSize, handler)
		drained += n
		if err != nil {
			return fmt.Errorf("drain stopped in segment %s: %w", filepath.Base(seg.path), err)
		}
		if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove drained WAL segment: %w", err)
		}
		s.total -= seg.size
		s.segments = s.segments[1:]
	}

	s.logger.Info("WAL drained", "events", drained)
	return nil
}

func (s *Spool) replay(ctx context.Context, seg *segment, batchSize int, handler func([]domain.RawEvent) error) (int, error) {
	f, err := os.Open(seg.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	accepted := 0
	batch := make([]domain.RawEvent, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := handler(batch); err != nil {
			return err
		}
		accepted += len(batch)
		batch = make([]domain.RawEvent, 0, batchSize)
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), maxRecordBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event domain.RawEvent
		if err := json.Unmarshal(line, &event); err != nil {
			// A torn write after a crash leaves a partial last line.
			s.logger.Warn("Skipping unreadable WAL record", "segment", filepath.Base(seg.path), "error", err)
			continue
		}
		batch = append(batch, event)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return accepted, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return accepted, fmt.Errorf("failed to read WAL segment: %w", err)
	}
	return accepted, flush()
}

func (s *Spool) closeHead() error {
	if s.head == nil {
		return nil
	}
	f := s.head
	s.head = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close syncs and closes the write head.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeHead()
}
