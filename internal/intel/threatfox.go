// Client for the abuse.ch ThreatFox API. ThreatFox tracks indicators tied
// to specific malware distribution campaigns; queries are POSTs against a
// single endpoint. No API key is required.
package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mdtran/intelweaver/internal/indicator"
)

const threatFoxDefaultBaseURL = "https://threatfox-api.abuse.ch/api/v1"

// ThreatFoxClient implements the Client interface for ThreatFox.
type ThreatFoxClient struct {
	config     ClientConfig
	apiKey     string
	httpClient *http.Client
}

// NewThreatFoxClient creates a ThreatFox client. The API key is optional.
func NewThreatFoxClient(config ClientConfig) (*ThreatFoxClient, error) {
	key, err := config.apiKey(false)
	if err != nil {
		return nil, fmt.Errorf("threatfox: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = threatFoxDefaultBaseURL
	}

	return &ThreatFoxClient{
		config:     config,
		apiKey:     key,
		httpClient: newHTTPClient(config.Timeout),
	}, nil
}

func (c *ThreatFoxClient) Source() Source {
	return SourceThreatFox
}

// Supports reports true for all indicator kinds.
func (c *ThreatFoxClient) Supports(kind indicator.Kind) bool {
	switch kind {
	case indicator.KindIP, indicator.KindDomain, indicator.KindHash:
		return true
	}
	return false
}

// HealthCheck issues a search for a well-known benign IP; any well-formed
// response (including no_result) passes.
func (c *ThreatFoxClient) HealthCheck(ctx context.Context) error {
	if _, err := c.query(ctx, "1.1.1.1"); err != nil {
		return fmt.Errorf("threatfox health check: %w", err)
	}
	return nil
}

// Fetch searches ThreatFox for an indicator.
func (c *ThreatFoxClient) Fetch(ctx context.Context, ind indicator.Indicator) (*Report, error) {
	resp, err := c.query(ctx, ind.Value)
	if err != nil {
		return nil, err
	}

	// "no_result" means the indicator is simply unknown to ThreatFox. The
	// data field is only an entry list on "ok"; otherwise it holds an
	// explanatory string.
	if resp.QueryStatus != "ok" {
		return &Report{}, nil
	}

	var entries []threatFoxEntry
	if err := json.Unmarshal(resp.Data, &entries); err != nil {
		return nil, &SourceError{Source: SourceThreatFox, Kind: ErrKindInvalidResponse, Err: err}
	}
	if len(entries) == 0 {
		return &Report{}, nil
	}

	return c.buildReport(entries, resp.Data), nil
}

func (c *ThreatFoxClient) query(ctx context.Context, term string) (*threatFoxResponse, error) {
	body, err := json.Marshal(map[string]string{
		"query":       "search_ioc",
		"search_term": term,
	})
	if err != nil {
		return nil, &SourceError{Source: SourceThreatFox, Kind: ErrKindInvalidResponse, Err: err}
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Auth-Key"] = c.apiKey
	}

	req, err := newRequest(ctx, "POST", c.config.BaseURL, "/", bytes.NewReader(body), headers)
	if err != nil {
		return nil, &SourceError{Source: SourceThreatFox, Kind: ErrKindInvalidResponse, Err: err}
	}

	var resp threatFoxResponse
	if err := fetchJSON(SourceThreatFox, c.httpClient, req, &resp); err != nil {
		if err == errNotFound {
			return &threatFoxResponse{QueryStatus: "no_result"}, nil
		}
		return nil, err
	}

	return &resp, nil
}

// buildReport uses the first (most recent) IOC entry for the score and
// unions tags and malware names across all entries.
func (c *ThreatFoxClient) buildReport(entries []threatFoxEntry, raw json.RawMessage) *Report {
	report := &Report{Raw: raw}

	score := float64(entries[0].ConfidenceLevel)
	if score > 100 {
		score = 100
	}
	report.Score = &score

	for _, entry := range entries {
		if entry.MalwarePrintable != "" {
			report.Tags = append(report.Tags, entry.MalwarePrintable)
		}
		report.Tags = append(report.Tags, entry.Tags...)
		if entry.ThreatType != "" {
			report.Categories = append(report.Categories, entry.ThreatType)
		}
	}

	return report
}

// threatFoxResponse is the envelope of a search_ioc query.
type threatFoxResponse struct {
	QueryStatus string          `json:"query_status"`
	Data        json.RawMessage `json:"data"`
}

// threatFoxEntry is one IOC record inside an "ok" response.
type threatFoxEntry struct {
	ID               string   `json:"id"`
	IOC              string   `json:"ioc"`
	ThreatType       string   `json:"threat_type"`
	Malware          string   `json:"malware"`
	MalwarePrintable string   `json:"malware_printable"`
	ConfidenceLevel  int      `json:"confidence_level"`
	FirstSeen        string   `json:"first_seen"`
	Tags             []string `json:"tags"`
}
