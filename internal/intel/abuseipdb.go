// Client for the AbuseIPDB v2 API. AbuseIPDB crowd-sources abuse reports
// for IP addresses and exposes a 0-100 abuse confidence score, which maps
// directly onto the common threat scale.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mdtran/intelweaver/internal/indicator"
)

const abuseIPDBDefaultBaseURL = "https://api.abuseipdb.com/api/v2"

// AbuseIPDBClient implements the Client interface for AbuseIPDB.
type AbuseIPDBClient struct {
	config     ClientConfig
	apiKey     string
	httpClient *http.Client
}

// NewAbuseIPDBClient creates an AbuseIPDB client. An API key is required.
func NewAbuseIPDBClient(config ClientConfig) (*AbuseIPDBClient, error) {
	key, err := config.apiKey(true)
	if err != nil {
		return nil, fmt.Errorf("abuseipdb: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = abuseIPDBDefaultBaseURL
	}

	return &AbuseIPDBClient{
		config:     config,
		apiKey:     key,
		httpClient: newHTTPClient(config.Timeout),
	}, nil
}

func (c *AbuseIPDBClient) Source() Source {
	return SourceAbuseIPDB
}

// Supports reports true for IPs only.
func (c *AbuseIPDBClient) Supports(kind indicator.Kind) bool {
	return kind == indicator.KindIP
}

// HealthCheck verifies the API key with a lookup of a loopback address.
func (c *AbuseIPDBClient) HealthCheck(ctx context.Context) error {
	req, err := newRequest(ctx, "GET", c.config.BaseURL, "/check?ipAddress=127.0.0.1", nil, c.headers())
	if err != nil {
		return err
	}
	var resp abuseIPDBCheckResponse
	if err := fetchJSON(SourceAbuseIPDB, c.httpClient, req, &resp); err != nil && err != errNotFound {
		return fmt.Errorf("abuseipdb health check: %w", err)
	}
	return nil
}

// Fetch looks up the abuse confidence score for an IP.
func (c *AbuseIPDBClient) Fetch(ctx context.Context, ind indicator.Indicator) (*Report, error) {
	path := fmt.Sprintf("/check?ipAddress=%s&maxAgeInDays=90", url.QueryEscape(ind.Value))

	req, err := newRequest(ctx, "GET", c.config.BaseURL, path, nil, c.headers())
	if err != nil {
		return nil, &SourceError{Source: SourceAbuseIPDB, Kind: ErrKindInvalidResponse, Err: err}
	}

	var resp abuseIPDBCheckResponse
	if err := fetchJSON(SourceAbuseIPDB, c.httpClient, req, &resp); err != nil {
		if err == errNotFound {
			return &Report{}, nil
		}
		return nil, err
	}

	return c.buildReport(resp), nil
}

func (c *AbuseIPDBClient) headers() map[string]string {
	return map[string]string{"Key": c.apiKey}
}

func (c *AbuseIPDBClient) buildReport(resp abuseIPDBCheckResponse) *Report {
	data := resp.Data

	score := float64(data.AbuseConfidenceScore)
	report := &Report{
		Score:        &score,
		Country:      data.CountryCode,
		Organization: data.ISP,
	}

	if data.UsageType != "" {
		report.Categories = append(report.Categories, data.UsageType)
	}
	if data.IsTor {
		report.Tags = append(report.Tags, "tor")
	}
	if data.TotalReports > 0 {
		report.Tags = append(report.Tags, "abuse-reported")
	}

	raw, err := json.Marshal(resp)
	if err == nil {
		report.Raw = raw
	}

	return report
}

// abuseIPDBCheckResponse is the response from /check.
type abuseIPDBCheckResponse struct {
	Data struct {
		IPAddress            string `json:"ipAddress"`
		IsPublic             bool   `json:"isPublic"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		UsageType            string `json:"usageType"`
		ISP                  string `json:"isp"`
		Domain               string `json:"domain"`
		IsTor                bool   `json:"isTor"`
		TotalReports         int    `json:"totalReports"`
		LastReportedAt       string `json:"lastReportedAt"`
	} `json:"data"`
}
