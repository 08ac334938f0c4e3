package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// HTTPSender posts batches to the capture endpoint as {"events": [...]}.
type HTTPSender struct {
	URL    string
	Client *http.Client
	Gzip   bool
	// Header is added to every request.
	Header http.Header
}

// NewHTTPSender returns a sender with a bounded client timeout.
func NewHTTPSender(url string, gzipBody bool) *HTTPSender {
	return &HTTPSender{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Gzip:   gzipBody,
	}
}

type batchEnvelope struct {
	Events []domain.RawEvent `json:"events"`
}

func (s *HTTPSender) Send(ctx context.Context, events []domain.RawEvent) error {
	body, err := json.Marshal(batchEnvelope{Events: events})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	if s.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("capture endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
