// Package geoip resolves IP addresses through an ip-api compatible endpoint.
package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

const fields = "status,message,country,countryCode,region,regionName,city,zip,lat,lon,timezone,isp,org,as,asname,proxy,hosting"

// ErrLookupFailed is returned when the provider answers with status "fail".
var ErrLookupFailed = errors.New("ip lookup failed")

// Client is a rate-limited GeoLocator.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a client allowing perMinute lookups per minute. Each
// lookup, including its wait for the limiter, is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, perMinute int, logger *slog.Logger) *Client {
	if perMinute <= 0 {
		perMinute = 45
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		timeout: timeout,
		logger:  logger.With("component", "geoip_client"),
	}
}

// Locate fetches location and network operator data for ip.
func (c *Client) Locate(ctx context.Context, ip string) (domain.GeoLocation, error) {
	var loc domain.GeoLocation

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return loc, fmt.Errorf("geoip rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s?fields=%s", c.baseURL, url.PathEscape(ip), fields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return loc, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return loc, fmt.Errorf("geoip request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return loc, fmt.Errorf("geoip provider returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return loc, fmt.Errorf("failed to decode geoip response: %w", err)
	}
	if loc.Status == "fail" {
		if loc.Message == "" {
			return loc, ErrLookupFailed
		}
		return loc, fmt.Errorf("%w: %s", ErrLookupFailed, loc.Message)
	}

	c.logger.Debug("Resolved ip", "ip", ip, "country", loc.CountryCode, "isp", loc.ISP)
	return loc, nil
}
