// Client for the SANS Internet Storm Center (DShield) API. DShield
// aggregates firewall logs from sensors worldwide and exposes per-IP
// attack counts; no API key is required.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mdtran/intelweaver/internal/indicator"
)

const dshieldDefaultBaseURL = "https://isc.sans.edu/api"

// DShieldClient implements the Client interface for DShield.
type DShieldClient struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewDShieldClient creates a DShield client. The API key is optional.
func NewDShieldClient(config ClientConfig) (*DShieldClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = dshieldDefaultBaseURL
	}

	return &DShieldClient{
		config:     config,
		httpClient: newHTTPClient(config.Timeout),
	}, nil
}

func (c *DShieldClient) Source() Source {
	return SourceDShield
}

// Supports reports true for IPs only; DShield has no domain or hash data.
func (c *DShieldClient) Supports(kind indicator.Kind) bool {
	return kind == indicator.KindIP
}

// HealthCheck verifies connectivity with a lookup of a well-known IP.
func (c *DShieldClient) HealthCheck(ctx context.Context) error {
	var resp dshieldIPResponse
	req, err := newRequest(ctx, "GET", c.config.BaseURL, "/ip/8.8.8.8?json", nil, nil)
	if err != nil {
		return err
	}
	if err := fetchJSON(SourceDShield, c.httpClient, req, &resp); err != nil {
		return fmt.Errorf("dshield health check: %w", err)
	}
	return nil
}

// Fetch looks up the attack history for an IP.
func (c *DShieldClient) Fetch(ctx context.Context, ind indicator.Indicator) (*Report, error) {
	path := fmt.Sprintf("/ip/%s?json", url.PathEscape(ind.Value))

	req, err := newRequest(ctx, "GET", c.config.BaseURL, path, nil, nil)
	if err != nil {
		return nil, &SourceError{Source: SourceDShield, Kind: ErrKindInvalidResponse, Err: err}
	}

	var resp dshieldIPResponse
	if err := fetchJSON(SourceDShield, c.httpClient, req, &resp); err != nil {
		if err == errNotFound {
			return &Report{}, nil
		}
		return nil, err
	}

	return c.buildReport(resp), nil
}

// buildReport maps DShield attack counts onto the common 0-100 scale. An
// IP never reported by any sensor scores zero.
func (c *DShieldClient) buildReport(resp dshieldIPResponse) *Report {
	report := &Report{
		Country:      resp.IP.ASCountry,
		Organization: resp.IP.ASName,
	}
	if resp.IP.AS != 0 {
		report.ASN = fmt.Sprintf("AS%d", resp.IP.AS)
	}

	score := float64(resp.IP.Attacks)
	if score > 100 {
		score = 100
	}
	report.Score = &score

	if resp.IP.Attacks > 0 {
		report.Categories = append(report.Categories, "scanner")
	}
	for feed := range resp.IP.ThreatFeeds {
		report.Tags = append(report.Tags, feed)
	}

	raw, err := json.Marshal(resp)
	if err == nil {
		report.Raw = raw
	}

	return report
}

// dshieldIPResponse is the response from /ip/{address}?json.
type dshieldIPResponse struct {
	IP struct {
		Number      string                     `json:"number"`
		Count       int                        `json:"count"`
		Attacks     int                        `json:"attacks"`
		MaxDate     string                     `json:"maxdate"`
		MinDate     string                     `json:"mindate"`
		AS          int                        `json:"as"`
		ASName      string                     `json:"asname"`
		ASCountry   string                     `json:"ascountry"`
		Network     string                     `json:"network"`
		ThreatFeeds map[string]json.RawMessage `json:"threatfeeds,omitempty"`
	} `json:"ip"`
}
