// Client for the VirusTotal v3 API. VirusTotal aggregates verdicts from
// dozens of antivirus engines for IPs, domains, and file hashes.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mdtran/intelweaver/internal/indicator"
)

const vtDefaultBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotalClient implements the Client interface for VirusTotal.
type VirusTotalClient struct {
	config     ClientConfig
	apiKey     string
	httpClient *http.Client
}

// NewVirusTotalClient creates a VirusTotal client. An API key is required.
func NewVirusTotalClient(config ClientConfig) (*VirusTotalClient, error) {
	key, err := config.apiKey(true)
	if err != nil {
		return nil, fmt.Errorf("virustotal: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = vtDefaultBaseURL
	}

	return &VirusTotalClient{
		config:     config,
		apiKey:     key,
		httpClient: newHTTPClient(config.Timeout),
	}, nil
}

func (c *VirusTotalClient) Source() Source {
	return SourceVirusTotal
}

// Supports reports true for all indicator kinds.
func (c *VirusTotalClient) Supports(kind indicator.Kind) bool {
	switch kind {
	case indicator.KindIP, indicator.KindDomain, indicator.KindHash:
		return true
	}
	return false
}

// HealthCheck verifies the API key with a lookup of a well-known IP.
func (c *VirusTotalClient) HealthCheck(ctx context.Context) error {
	req, err := newRequest(ctx, "GET", c.config.BaseURL, "/ip_addresses/8.8.8.8", nil, c.headers())
	if err != nil {
		return err
	}
	var resp vtObjectResponse
	if err := fetchJSON(SourceVirusTotal, c.httpClient, req, &resp); err != nil && err != errNotFound {
		return fmt.Errorf("virustotal health check: %w", err)
	}
	return nil
}

// Fetch looks up the engine verdicts for an indicator.
func (c *VirusTotalClient) Fetch(ctx context.Context, ind indicator.Indicator) (*Report, error) {
	var path string
	switch ind.Kind {
	case indicator.KindIP:
		path = "/ip_addresses/" + url.PathEscape(ind.Value)
	case indicator.KindDomain:
		path = "/domains/" + url.PathEscape(ind.Value)
	case indicator.KindHash:
		path = "/files/" + url.PathEscape(ind.Value)
	default:
		return nil, &SourceError{Source: SourceVirusTotal, Kind: ErrKindInvalidResponse,
			Err: fmt.Errorf("unsupported indicator kind: %s", ind.Kind)}
	}

	req, err := newRequest(ctx, "GET", c.config.BaseURL, path, nil, c.headers())
	if err != nil {
		return nil, &SourceError{Source: SourceVirusTotal, Kind: ErrKindInvalidResponse, Err: err}
	}

	var resp vtObjectResponse
	if err := fetchJSON(SourceVirusTotal, c.httpClient, req, &resp); err != nil {
		if err == errNotFound {
			return &Report{}, nil
		}
		return nil, err
	}

	return c.buildReport(resp), nil
}

func (c *VirusTotalClient) headers() map[string]string {
	return map[string]string{"x-apikey": c.apiKey}
}

// buildReport scores by the fraction of engines flagging the indicator as
// malicious or suspicious (suspicious counts half).
func (c *VirusTotalClient) buildReport(resp vtObjectResponse) *Report {
	attrs := resp.Data.Attributes
	report := &Report{
		Country: attrs.Country,
		Tags:    attrs.Tags,
	}
	if attrs.ASN != 0 {
		report.ASN = fmt.Sprintf("AS%d", attrs.ASN)
	}
	report.Organization = attrs.ASOwner

	stats := attrs.LastAnalysisStats
	total := stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected
	if total > 0 {
		score := (float64(stats.Malicious) + float64(stats.Suspicious)/2) / float64(total) * 100
		report.Score = &score
	}

	if stats.Malicious > 0 {
		report.Categories = append(report.Categories, "malware")
	}

	raw, err := json.Marshal(resp)
	if err == nil {
		report.Raw = raw
	}

	return report
}

// vtObjectResponse is the common shape of VirusTotal v3 object lookups.
type vtObjectResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			ASN               int      `json:"asn,omitempty"`
			ASOwner           string   `json:"as_owner,omitempty"`
			Country           string   `json:"country,omitempty"`
			Reputation        int      `json:"reputation"`
			Tags              []string `json:"tags,omitempty"`
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}
