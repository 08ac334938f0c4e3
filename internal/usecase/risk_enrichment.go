package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// DefaultSubmissionWindow is the trailing window of CheckSubmissionRate.
const DefaultSubmissionWindow = 60 * time.Minute

var (
	dataCenterKeywords = []string{
		"amazon", "aws", "google cloud", "gcp", "microsoft azure", "azure",
		"digitalocean", "linode", "vultr", "ovh", "hetzner", "oracle cloud",
		"alibaba cloud", "rackspace", "ibm cloud", "cloudflare", "akamai",
		"fastly", "cloudfront", "cdn", "data center", "datacenter", "hosting",
		"server", "cloud", "vps", "dedicated",
	}
	vpnKeywords = []string{
		"nordvpn", "expressvpn", "surfshark", "cyberghost", "pia",
		"private internet access", "protonvpn", "mullvad", "windscribe",
		"tunnelbear", "hotspot shield", "hidemyass", "hma", "ipvanish",
		"vyprvpn", "purevpn", "torguard", "astrill", "perfect privacy",
		"vpn", "proxy", "anonymous",
	}
	torKeywords = []string{"tor", "onion", "privacy"}
)

// Score weights per risk indicator.
const (
	weightProxy      = 0.3
	weightVPN        = 0.25
	weightTor        = 0.4
	weightDataCenter = 0.2
	weightHosting    = 0.15
)

// RiskEnrichmentUseCase classifies the risk posture of IP addresses.
type RiskEnrichmentUseCase struct {
	locator   domain.GeoLocator
	cache     domain.RiskCache
	responses domain.ResponseRepository
	metrics   *metrics.WorkerMetrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewRiskEnrichmentUseCase(
	locator domain.GeoLocator,
	cache domain.RiskCache,
	responses domain.ResponseRepository,
	m *metrics.WorkerMetrics,
	logger *slog.Logger,
) *RiskEnrichmentUseCase {
	return &RiskEnrichmentUseCase{
		locator:   locator,
		cache:     cache,
		responses: responses,
		metrics:   m,
		logger:    logger.With("component", "risk_enrichment"),
		now:       time.Now,
	}
}

// Lookup returns the cached record for ip when it is fresh, and otherwise
// resolves and caches a new one. Lookup failures yield a zero-risk record
// that is not cached.
func (uc *RiskEnrichmentUseCase) Lookup(ctx context.Context, ip string) domain.RiskRecord {
	if ip == "" {
		return domain.ZeroRisk(ip)
	}

	rec, ok, err := uc.cache.Get(ctx, ip)
	if err != nil {
		uc.logger.Warn("Risk cache read failed, resolving ip", "error", err, "ip", ip)
	}
	if ok {
		uc.metrics.RiskLookup(true)
		return rec
	}
	uc.metrics.RiskLookup(false)

	loc, err := uc.locator.Locate(ctx, ip)
	if err != nil {
		uc.logger.Warn("IP lookup failed, using zero risk", "error", err, "ip", ip)
		return domain.ZeroRisk(ip)
	}

	rec = Classify(ip, loc)
	rec.CachedAt = uc.now().UTC()
	if err := uc.cache.Set(ctx, rec); err != nil {
		uc.logger.Warn("Failed to cache risk record", "error", err, "ip", ip)
	}
	return rec
}

// Classify derives the risk indicators and score from a geolocation answer.
func Classify(ip string, loc domain.GeoLocation) domain.RiskRecord {
	network := strings.ToLower(strings.Join([]string{loc.ISP, loc.Org, loc.ASName}, " "))
	owner := strings.ToLower(loc.Org + " " + loc.ASName)

	rec := domain.RiskRecord{
		IP:           ip,
		Country:      loc.Country,
		CountryCode:  loc.CountryCode,
		Region:       loc.Region,
		RegionName:   loc.RegionName,
		City:         loc.City,
		Zip:          loc.Zip,
		Lat:          loc.Lat,
		Lon:          loc.Lon,
		Timezone:     loc.Timezone,
		ISP:          loc.ISP,
		Org:          loc.Org,
		AS:           loc.AS,
		ASName:       loc.ASName,
		IsProxy:      loc.Proxy,
		IsHosting:    loc.Hosting,
		IsDataCenter: containsAny(network, dataCenterKeywords),
		IsVPN:        containsAny(network, vpnKeywords),
		IsTor:        containsAny(owner, torKeywords),
	}

	var score float64
	if rec.IsProxy {
		score += weightProxy
	}
	if rec.IsVPN {
		score += weightVPN
	}
	if rec.IsTor {
		score += weightTor
	}
	if rec.IsDataCenter {
		score += weightDataCenter
	}
	if rec.IsHosting {
		score += weightHosting
	}
	// Rounded so sums like 0.3+0.4 land exactly on the band edges.
	rec.RiskScore = math.Min(1, math.Round(score*1e4)/1e4)
	rec.ThreatLevel = ThreatLevelFor(rec.RiskScore)
	return rec
}

// ThreatLevelFor buckets a risk score.
func ThreatLevelFor(score float64) domain.ThreatLevel {
	switch {
	case score >= 0.7:
		return domain.ThreatVeryHigh
	case score >= 0.5:
		return domain.ThreatHigh
	case score >= 0.3:
		return domain.ThreatMedium
	default:
		return domain.ThreatLow
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// ValidateTimezone compares the IP's IANA timezone with the browser's.
func ValidateTimezone(ipTZ, browserTZ string) domain.TimezoneCheck {
	if ipTZ == "" || browserTZ == "" {
		return domain.TimezoneCheck{IsConsistent: true, Reason: "Insufficient timezone data"}
	}
	if ipTZ == browserTZ {
		return domain.TimezoneCheck{IsConsistent: true}
	}

	ipRegion, _, _ := strings.Cut(ipTZ, "/")
	browserRegion, _, _ := strings.Cut(browserTZ, "/")
	if ipRegion != browserRegion {
		return domain.TimezoneCheck{
			SuspicionScore: 0.6,
			Reason:         fmt.Sprintf("Timezone mismatch: IP in %s, browser in %s", ipRegion, browserRegion),
		}
	}
	return domain.TimezoneCheck{
		SuspicionScore: 0.2,
		Reason:         fmt.Sprintf("Timezone city mismatch within %s", ipRegion),
	}
}

// CheckSubmissionRate counts responses from ip within the trailing window.
// Store errors yield a zero result.
func (uc *RiskEnrichmentUseCase) CheckSubmissionRate(ctx context.Context, ip string, window time.Duration) domain.SubmissionRate {
	if ip == "" {
		return domain.SubmissionRate{}
	}
	if window <= 0 {
		window = DefaultSubmissionWindow
	}

	count, err := uc.responses.CountByIPSince(ctx, ip, uc.now().Add(-window))
	if err != nil {
		uc.logger.Warn("Failed to count submissions by ip", "error", err, "ip", ip)
		return domain.SubmissionRate{}
	}
	return SubmissionRateFor(count)
}

// SubmissionRateFor buckets a submission count.
func SubmissionRateFor(count int64) domain.SubmissionRate {
	rate := domain.SubmissionRate{Count: count}
	switch {
	case count >= 50:
		rate.RiskScore, rate.IsExcessive = 1, true
	case count >= 20:
		rate.RiskScore, rate.IsExcessive = 0.8, true
	case count >= 10:
		rate.RiskScore, rate.IsExcessive = 0.5, true
	case count >= 5:
		rate.RiskScore = 0.3
	}
	return rate
}

// Assess runs the reputation, timezone and submission-rate checks for one submission.
func (uc *RiskEnrichmentUseCase) Assess(ctx context.Context, ip, browserTZ string) domain.RiskAssessment {
	rec := uc.Lookup(ctx, ip)
	return domain.RiskAssessment{
		Record:   rec,
		Timezone: ValidateTimezone(rec.Timezone, browserTZ),
		Rate:     uc.CheckSubmissionRate(ctx, ip, DefaultSubmissionWindow),
	}
}

// RiskFactors renders the notable parts of an assessment as flag reasons.
func RiskFactors(a domain.RiskAssessment) []string {
	var out []string
	switch a.Record.ThreatLevel {
	case domain.ThreatHigh, domain.ThreatVeryHigh:
		out = append(out, fmt.Sprintf("IP reputation %s (score %.2f)", a.Record.ThreatLevel, a.Record.RiskScore))
	}
	if a.Record.IsTor {
		out = append(out, "Tor network detected")
	}
	if a.Record.IsVPN {
		out = append(out, "VPN or anonymizing proxy detected")
	}
	if !a.Timezone.IsConsistent {
		out = append(out, a.Timezone.Reason)
	}
	if a.Rate.IsExcessive {
		out = append(out, fmt.Sprintf("Excessive submissions from IP (%d in the last hour)", a.Rate.Count))
	}
	return out
}
