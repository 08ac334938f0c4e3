// Package scorer talks to the external behavioral fraud model.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// Client implements domain.FraudScorer over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a scorer client. Every call is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "scorer_client"),
	}
}

// Score posts the behavioral payload to /analyze-behavior.
func (c *Client) Score(ctx context.Context, payload domain.BehavioralPayload) (domain.ScoreResult, error) {
	var result domain.ScoreResult
	if err := c.post(ctx, "/analyze-behavior", payload.Normalized(), &result); err != nil {
		return domain.ScoreResult{}, err
	}
	if math.IsNaN(result.FraudProbability) {
		return domain.ScoreResult{}, fmt.Errorf("scorer returned a non-numeric probability")
	}
	result.FraudProbability = math.Max(0, math.Min(1, result.FraudProbability))
	if result.RiskFactors == nil {
		result.RiskFactors = []string{}
	}
	return result, nil
}

type retrainRequest struct {
	SampleCount int64  `json:"sample_count"`
	Trigger     string `json:"trigger"`
}

// TriggerRetraining asks the model service to retrain on recent samples.
func (c *Client) TriggerRetraining(ctx context.Context, sampleCount int64) error {
	return c.post(ctx, "/retrain", retrainRequest{SampleCount: sampleCount, Trigger: "sample_threshold"}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode scorer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scorer request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("scorer %s returned %s: %s", path, resp.Status, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode scorer response: %w", err)
	}
	return nil
}
