package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/domain"
	"github.com/V4T54L/survey-sentinel/internal/usecase"
)

// EventIngester is the write side of the capture endpoint.
type EventIngester interface {
	Ingest(ctx context.Context, items []json.RawMessage, meta usecase.BatchMeta) usecase.IngestResult
}

// CaptureReporter is the read side of the capture endpoint.
type CaptureReporter interface {
	Report(ctx context.Context, surveyID, sessionID string) (domain.CaptureReport, error)
}

// RateReporter receives the number of events accepted per batch.
type RateReporter interface {
	ReportEvents(count int)
}

// CaptureHandler serves /api/analytics/capture.
type CaptureHandler struct {
	ingest        EventIngester
	reports       CaptureReporter
	rate          RateReporter
	metrics       *metrics.IngestMetrics
	logger        *slog.Logger
	maxBatchBytes int64
}

// NewCaptureHandler creates the capture handler. rate may be nil.
func NewCaptureHandler(ingest EventIngester, reports CaptureReporter, rate RateReporter, m *metrics.IngestMetrics, logger *slog.Logger, maxBatchBytes int64) *CaptureHandler {
	return &CaptureHandler{
		ingest:        ingest,
		reports:       reports,
		rate:          rate,
		metrics:       m,
		logger:        logger.With("component", "capture_handler"),
		maxBatchBytes: maxBatchBytes,
	}
}

type captureResponse struct {
	Success bool `json:"success"`
	usecase.IngestResult
}

// Capture accepts a batch of events as {"events":[...]} or a bare array,
// optionally gzip-encoded.
// POST /api/analytics/capture
func (h *CaptureHandler) Capture(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "application/json" && mediaType != "text/plain") {
			h.metrics.Batch("error_media_type", 0)
			respondError(w, h.logger, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
	}

	body, err := h.readBody(w, r)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.metrics.Batch("error_size", 0)
			respondError(w, h.logger, http.StatusRequestEntityTooLarge, "payload_too_large", "batch exceeds the size limit")
			return
		}
		h.metrics.Batch("error_parse", 0)
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "unreadable request body")
		return
	}

	items, err := parseBatch(body)
	if err != nil {
		h.metrics.Batch("error_parse", len(body))
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	h.metrics.Batch("ok", len(body))

	res := h.ingest.Ingest(r.Context(), items, usecase.BatchMeta{IPAddress: ClientIP(r)})
	if h.rate != nil && res.Processed > 0 {
		h.rate.ReportEvents(res.Processed)
	}
	if len(res.Skipped) > 0 {
		h.logger.Debug("Batch partially accepted", "processed", res.Processed, "total", res.Total)
	}

	respondJSON(w, h.logger, http.StatusOK, captureResponse{Success: true, IngestResult: res})
}

func (h *CaptureHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var body io.ReadCloser = http.MaxBytesReader(w, r.Body, h.maxBatchBytes)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		// The limit applies to the decompressed batch too.
		body = http.MaxBytesReader(w, gz, h.maxBatchBytes)
	}
	return io.ReadAll(body)
}

var errEmptyBatch = errors.New("events must be a non-empty array")

func parseBatch(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBatch
	}

	var items []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, errors.New("request body is not a JSON array")
		}
	} else {
		var envelope struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, errors.New("request body is not valid JSON")
		}
		items = envelope.Events
	}

	if len(items) == 0 {
		return nil, errEmptyBatch
	}
	for _, item := range items {
		if trimmed := bytes.TrimSpace(item); len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, errors.New("every event must be a JSON object")
		}
	}
	return items, nil
}

// Query returns the stored events and derived insights of a survey.
// GET /api/analytics/capture?surveyId={id}&sessionId={id}
func (h *CaptureHandler) Query(w http.ResponseWriter, r *http.Request) {
	surveyID := r.URL.Query().Get("surveyId")
	if surveyID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "surveyId is required")
		return
	}

	report, err := h.reports.Report(r.Context(), surveyID, r.URL.Query().Get("sessionId"))
	if err != nil {
		h.logger.Error("Failed to build capture report", "error", err, "survey_id", surveyID)
		respondError(w, h.logger, http.StatusInternalServerError, "internal_error", "")
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "data": report})
}

// ClientIP prefers the Cloudflare connecting-IP header and falls back to the
// remote address, which RealIP middleware has already resolved from proxy headers.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
