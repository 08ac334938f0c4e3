package domain

import "time"

// ThreatLevel buckets a risk score.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatVeryHigh ThreatLevel = "very-high"
)

// GeoLocation is the geolocation/ISP lookup response.
type GeoLocation struct {
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
	ASName      string  `json:"asname"`
	Proxy       bool    `json:"proxy"`
	Hosting     bool    `json:"hosting"`
}

// RiskRecord is the cached reputation of one IP address.
type RiskRecord struct {
	IP           string      `json:"ip"`
	Country      string      `json:"country,omitempty"`
	CountryCode  string      `json:"country_code,omitempty"`
	Region       string      `json:"region,omitempty"`
	RegionName   string      `json:"region_name,omitempty"`
	City         string      `json:"city,omitempty"`
	Zip          string      `json:"zip,omitempty"`
	Lat          float64     `json:"lat,omitempty"`
	Lon          float64     `json:"lon,omitempty"`
	Timezone     string      `json:"timezone,omitempty"`
	ISP          string      `json:"isp,omitempty"`
	Org          string      `json:"org,omitempty"`
	AS           string      `json:"as,omitempty"`
	ASName       string      `json:"asname,omitempty"`
	IsProxy      bool        `json:"is_proxy"`
	IsVPN        bool        `json:"is_vpn"`
	IsTor        bool        `json:"is_tor"`
	IsDataCenter bool        `json:"is_data_center"`
	IsHosting    bool        `json:"is_hosting"`
	RiskScore    float64     `json:"risk_score"`
	ThreatLevel  ThreatLevel `json:"threat_level"`
	CachedAt     time.Time   `json:"cached_at"`
}

// ZeroRisk is returned when enrichment fails.
func ZeroRisk(ip string) RiskRecord {
	return RiskRecord{IP: ip, RiskScore: 0, ThreatLevel: ThreatLow}
}

// TimezoneCheck compares the IP's timezone with the browser's.
type TimezoneCheck struct {
	IsConsistent   bool    `json:"is_consistent"`
	SuspicionScore float64 `json:"suspicion_score"`
	Reason         string  `json:"reason,omitempty"`
}

// SubmissionRate is the trailing-window submission count for an IP.
type SubmissionRate struct {
	Count       int64   `json:"submission_count"`
	IsExcessive bool    `json:"is_excessive"`
	RiskScore   float64 `json:"risk_score"`
}

// RiskAssessment bundles the three IP checks.
type RiskAssessment struct {
	Record   RiskRecord     `json:"record"`
	Timezone TimezoneCheck  `json:"timezone"`
	Rate     SubmissionRate `json:"rate"`
}
