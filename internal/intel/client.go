// Package intel provides clients for external threat intelligence sources.
// Every source implements the same Client capability; the orchestrator
// only ever sees the closed Source enum plus per-source configuration, so
// adding a source means adding a client and a config entry, never a
// special case.
package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mdtran/intelweaver/internal/indicator"
)

// Source identifies a configured threat intelligence provider.
type Source string

const (
	SourceDShield    Source = "dshield"
	SourceVirusTotal Source = "virustotal"
	SourceShodan     Source = "shodan"
	SourceAbuseIPDB  Source = "abuseipdb"
	SourceAlienVault Source = "alienvault"
	SourceThreatFox  Source = "threatfox"
)

// AllSources lists every known source. Order here is not meaningful;
// query order comes from configured priority.
var AllSources = []Source{
	SourceDShield,
	SourceVirusTotal,
	SourceShodan,
	SourceAbuseIPDB,
	SourceAlienVault,
	SourceThreatFox,
}

// Valid reports whether s names a known source.
func (s Source) Valid() bool {
	for _, known := range AllSources {
		if s == known {
			return true
		}
	}
	return false
}

// Report is the normalized result of one source lookup. Score is on a
// common 0-100 threat scale; nil means the source returned data but no
// usable verdict.
type Report struct {
	Score        *float64        `json:"score,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Categories   []string        `json:"categories,omitempty"`
	Country      string          `json:"country,omitempty"`
	ASN          string          `json:"asn,omitempty"`
	Organization string          `json:"organization,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Client is the uniform capability every source exposes.
type Client interface {
	Source() Source
	Supports(kind indicator.Kind) bool
	Fetch(ctx context.Context, ind indicator.Indicator) (*Report, error)
	HealthCheck(ctx context.Context) error
}

// ClientConfig holds settings common to all HTTP source clients. API keys
// are resolved from the environment via APIKeyEnv, never stored in config.
type ClientConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

const userAgent = "IntelWeaver/1.0"

// apiKey resolves the configured API key, failing when required is set
// and the environment variable is empty.
func (c ClientConfig) apiKey(required bool) (string, error) {
	if c.APIKeyEnv == "" {
		if required {
			return "", fmt.Errorf("api_key_env is required")
		}
		return "", nil
	}
	key := os.Getenv(c.APIKeyEnv)
	if key == "" && required {
		return "", fmt.Errorf("API key not found in env var: %s", c.APIKeyEnv)
	}
	return key, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// errNotFound marks a provider response that means "no data for this
// indicator" rather than a failure. Clients translate it into an empty
// report.
var errNotFound = errors.New("indicator not found")

// newRequest builds a request against the client's base URL with the
// standard headers set.
func newRequest(ctx context.Context, method, baseURL, path string, body io.Reader, headers map[string]string) (*http.Request, error) {
	fullURL := strings.TrimSuffix(baseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// fetchJSON executes req and decodes the body into v, translating every
// failure mode into the closed SourceError set. A 404 reports errNotFound.
func fetchJSON(src Source, httpClient *http.Client, req *http.Request, v any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return classifyTransportError(src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}

	if err := classifyStatus(src, resp.StatusCode); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &SourceError{Source: src, Kind: ErrKindInvalidResponse, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}
