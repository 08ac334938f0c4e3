package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// LiveRate is one tick of the live ingestion stream.
type LiveRate struct {
	Rate  float64 `json:"rate"`
	Total int64   `json:"total"`
}

// SSEBroker streams the accepted-events rate to Server-Sent Events clients.
type SSEBroker struct {
	logger   *slog.Logger
	interval time.Duration
	reports  chan int

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

// NewSSEBroker creates a broker and starts its tick loop, which stops with ctx.
func NewSSEBroker(ctx context.Context, interval time.Duration, logger *slog.Logger) *SSEBroker {
	if interval <= 0 {
		interval = time.Second
	}
	b := &SSEBroker{
		logger:   logger.With("component", "sse_broker"),
		interval: interval,
		reports:  make(chan int, 1000),
		clients:  make(map[chan []byte]struct{}),
	}
	go b.run(ctx)
	return b
}

// ServeHTTP holds the connection open and writes one message per tick.
// GET /api/analytics/live
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan []byte, 4)
	b.subscribe(ch)
	defer b.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// ReportEvents adds count accepted events to the current tick. It never blocks.
func (b *SSEBroker) ReportEvents(count int) {
	select {
	case b.reports <- count:
	default:
		b.logger.Warn("Live rate report channel full, dropping report", "count", count)
	}
}

// Clients returns the number of connected streams.
func (b *SSEBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *SSEBroker) subscribe(ch chan []byte) {
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	b.logger.Debug("Live client connected")
}

func (b *SSEBroker) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
		b.logger.Debug("Live client disconnected")
	}
}

func (b *SSEBroker) broadcast(msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			// slow client; it gets the next tick
		}
	}
}

func (b *SSEBroker) run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var (
		window int
		total  int64
		last   = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-b.reports:
			window += n
			total += int64(n)
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(window) / elapsed
			}
			msg, err := json.Marshal(LiveRate{Rate: rate, Total: total})
			if err != nil {
				b.logger.Error("Failed to marshal live rate", "error", err)
				continue
			}
			b.broadcast(msg)
			window, last = 0, now
		}
	}
}
