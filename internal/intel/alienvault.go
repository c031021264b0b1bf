// Client for AlienVault OTX (Open Threat Exchange). OTX organizes shared
// threat data into pulses; the number of pulses referencing an indicator
// drives its score on the common scale.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mdtran/intelweaver/internal/indicator"
)

const otxDefaultBaseURL = "https://otx.alienvault.com/api/v1"

// AlienVaultClient implements the Client interface for OTX.
type AlienVaultClient struct {
	config     ClientConfig
	apiKey     string
	httpClient *http.Client
}

// NewAlienVaultClient creates an OTX client. An API key is required.
func NewAlienVaultClient(config ClientConfig) (*AlienVaultClient, error) {
	key, err := config.apiKey(true)
	if err != nil {
		return nil, fmt.Errorf("alienvault: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = otxDefaultBaseURL
	}

	return &AlienVaultClient{
		config:     config,
		apiKey:     key,
		httpClient: newHTTPClient(config.Timeout),
	}, nil
}

func (c *AlienVaultClient) Source() Source {
	return SourceAlienVault
}

// Supports reports true for all indicator kinds.
func (c *AlienVaultClient) Supports(kind indicator.Kind) bool {
	switch kind {
	case indicator.KindIP, indicator.KindDomain, indicator.KindHash:
		return true
	}
	return false
}

// HealthCheck verifies the API key against the user endpoint.
func (c *AlienVaultClient) HealthCheck(ctx context.Context) error {
	req, err := newRequest(ctx, "GET", c.config.BaseURL, "/user/me", nil, c.headers())
	if err != nil {
		return err
	}
	var resp json.RawMessage
	if err := fetchJSON(SourceAlienVault, c.httpClient, req, &resp); err != nil {
		return fmt.Errorf("alienvault health check: %w", err)
	}
	return nil
}

// Fetch looks up the general section for an indicator.
func (c *AlienVaultClient) Fetch(ctx context.Context, ind indicator.Indicator) (*Report, error) {
	var section string
	switch ind.Kind {
	case indicator.KindIP:
		section = "IPv4"
	case indicator.KindDomain:
		section = "domain"
	case indicator.KindHash:
		section = "file"
	default:
		return nil, &SourceError{Source: SourceAlienVault, Kind: ErrKindInvalidResponse,
			Err: fmt.Errorf("unsupported indicator kind: %s", ind.Kind)}
	}

	path := fmt.Sprintf("/indicators/%s/%s/general", section, url.PathEscape(ind.Value))

	req, err := newRequest(ctx, "GET", c.config.BaseURL, path, nil, c.headers())
	if err != nil {
		return nil, &SourceError{Source: SourceAlienVault, Kind: ErrKindInvalidResponse, Err: err}
	}

	var resp otxGeneralResponse
	if err := fetchJSON(SourceAlienVault, c.httpClient, req, &resp); err != nil {
		if err == errNotFound {
			return &Report{}, nil
		}
		return nil, err
	}

	return c.buildReport(resp), nil
}

func (c *AlienVaultClient) headers() map[string]string {
	return map[string]string{"X-OTX-API-KEY": c.apiKey}
}

// buildReport scores by pulse count: wide community reporting scores
// high, a single pulse scores low, no pulses scores zero.
func (c *AlienVaultClient) buildReport(resp otxGeneralResponse) *Report {
	report := &Report{
		Country: resp.CountryCode,
		ASN:     resp.ASN,
	}

	score := otxPulseScore(resp.PulseInfo.Count)
	report.Score = &score

	for _, pulse := range resp.PulseInfo.Pulses {
		report.Tags = append(report.Tags, pulse.Tags...)
		if pulse.Adversary != "" {
			report.Categories = append(report.Categories, "targeted")
		}
	}

	raw, err := json.Marshal(resp)
	if err == nil {
		report.Raw = raw
	}

	return report
}

func otxPulseScore(pulseCount int) float64 {
	switch {
	case pulseCount >= 10:
		return 90
	case pulseCount >= 5:
		return 75
	case pulseCount >= 3:
		return 60
	case pulseCount >= 1:
		return 40
	default:
		return 0
	}
}

// otxGeneralResponse is the response from /indicators/{type}/{value}/general.
type otxGeneralResponse struct {
	Indicator   string `json:"indicator"`
	Type        string `json:"type"`
	Reputation  int    `json:"reputation"`
	ASN         string `json:"asn,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	PulseInfo   struct {
		Count  int `json:"count"`
		Pulses []struct {
			ID        string   `json:"id"`
			Name      string   `json:"name"`
			Tags      []string `json:"tags"`
			Adversary string   `json:"adversary,omitempty"`
		} `json:"pulses"`
	} `json:"pulse_info"`
}
