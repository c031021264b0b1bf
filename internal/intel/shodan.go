// Client for the Shodan host API. Shodan indexes internet-facing services;
// exposure (open ports, known vulnerabilities) drives the score rather than
// observed attacks.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mdtran/intelweaver/internal/indicator"
)

const shodanDefaultBaseURL = "https://api.shodan.io"

// ShodanClient implements the Client interface for Shodan.
type ShodanClient struct {
	config     ClientConfig
	apiKey     string
	httpClient *http.Client
}

// NewShodanClient creates a Shodan client. An API key is required.
func NewShodanClient(config ClientConfig) (*ShodanClient, error) {
	key, err := config.apiKey(true)
	if err != nil {
		return nil, fmt.Errorf("shodan: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = shodanDefaultBaseURL
	}

	return &ShodanClient{
		config:     config,
		apiKey:     key,
		httpClient: newHTTPClient(config.Timeout),
	}, nil
}

func (c *ShodanClient) Source() Source {
	return SourceShodan
}

// Supports reports true for IPs only.
func (c *ShodanClient) Supports(kind indicator.Kind) bool {
	return kind == indicator.KindIP
}

// HealthCheck verifies the API key against the api-info endpoint.
func (c *ShodanClient) HealthCheck(ctx context.Context) error {
	path := "/api-info?key=" + url.QueryEscape(c.apiKey)
	req, err := newRequest(ctx, "GET", c.config.BaseURL, path, nil, nil)
	if err != nil {
		return err
	}
	var resp json.RawMessage
	if err := fetchJSON(SourceShodan, c.httpClient, req, &resp); err != nil {
		return fmt.Errorf("shodan health check: %w", err)
	}
	return nil
}

// Fetch looks up host exposure data for an IP. Shodan returns 404 for
// hosts it has never scanned, which is an empty report, not a failure.
func (c *ShodanClient) Fetch(ctx context.Context, ind indicator.Indicator) (*Report, error) {
	path := fmt.Sprintf("/shodan/host/%s?key=%s", url.PathEscape(ind.Value), url.QueryEscape(c.apiKey))

	req, err := newRequest(ctx, "GET", c.config.BaseURL, path, nil, nil)
	if err != nil {
		return nil, &SourceError{Source: SourceShodan, Kind: ErrKindInvalidResponse, Err: err}
	}

	var resp shodanHostResponse
	if err := fetchJSON(SourceShodan, c.httpClient, req, &resp); err != nil {
		if err == errNotFound {
			return &Report{}, nil
		}
		return nil, err
	}

	return c.buildReport(resp), nil
}

// buildReport derives an exposure score: each known vulnerability weighs
// far more than an open port, capped at 100.
func (c *ShodanClient) buildReport(resp shodanHostResponse) *Report {
	report := &Report{
		Country:      resp.CountryName,
		ASN:          resp.ASN,
		Organization: resp.Org,
		Tags:         resp.Tags,
	}

	score := float64(len(resp.Vulns))*15 + float64(len(resp.Ports))*2
	if score > 100 {
		score = 100
	}
	report.Score = &score

	if len(resp.Vulns) > 0 {
		report.Categories = append(report.Categories, "vulnerable")
	}

	raw, err := json.Marshal(resp)
	if err == nil {
		report.Raw = raw
	}

	return report
}

// shodanHostResponse is the response from /shodan/host/{ip}.
type shodanHostResponse struct {
	IPStr       string   `json:"ip_str"`
	Ports       []int    `json:"ports"`
	Vulns       []string `json:"vulns,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CountryName string   `json:"country_name,omitempty"`
	ASN         string   `json:"asn,omitempty"`
	Org         string   `json:"org,omitempty"`
	OS          string   `json:"os,omitempty"`
	LastUpdate  string   `json:"last_update,omitempty"`
}
