package intel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mdtran/intelweaver/internal/indicator"
)

func mustIndicator(t *testing.T, value string) indicator.Indicator {
	t.Helper()
	ind, err := indicator.Parse(value)
	if err != nil {
		t.Fatalf("Parse(%q): %v", value, err)
	}
	return ind
}

// TestDShieldFetch_Success verifies a successful IP lookup is mapped onto
// the common report shape.
func TestDShieldFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ip/198.51.100.7" {
			t.Errorf("expected path /ip/198.51.100.7, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"ip":{"number":"198.51.100.7","count":120,"attacks":42,"as":64500,"asname":"EXAMPLE-AS","ascountry":"US","threatfeeds":{"blocklistde":{}}}}`))
	}))
	defer server.Close()

	client, err := NewDShieldClient(ClientConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewDShieldClient: %v", err)
	}

	report, err := client.Fetch(context.Background(), mustIndicator(t, "198.51.100.7"))
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}

	if report.Score == nil || *report.Score != 42 {
		t.Errorf("score = %v, want 42", report.Score)
	}
	if report.Country != "US" {
		t.Errorf("country = %q, want US", report.Country)
	}
	if report.ASN != "AS64500" {
		t.Errorf("asn = %q, want AS64500", report.ASN)
	}
	if len(report.Tags) != 1 || report.Tags[0] != "blocklistde" {
		t.Errorf("tags = %v, want [blocklistde]", report.Tags)
	}
}

// TestDShieldFetch_ScoreCapped verifies attack counts above 100 clamp to
// the top of the scale.
func TestDShieldFetch_ScoreCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":{"attacks":5000}}`))
	}))
	defer server.Close()

	client, _ := NewDShieldClient(ClientConfig{BaseURL: server.URL})

	report, err := client.Fetch(context.Background(), mustIndicator(t, "203.0.113.9"))
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}
	if report.Score == nil || *report.Score != 100 {
		t.Errorf("score = %v, want 100", report.Score)
	}
}

// TestDShieldFetch_NotFound verifies a 404 reports an empty report, not a
// failure.
func TestDShieldFetch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := NewDShieldClient(ClientConfig{BaseURL: server.URL})

	report, err := client.Fetch(context.Background(), mustIndicator(t, "203.0.113.9"))
	if err != nil {
		t.Fatalf("Fetch should succeed on 404: %v", err)
	}
	if report.Score != nil {
		t.Errorf("score should be nil for unknown indicator, got %v", *report.Score)
	}
}

// TestDShieldFetch_ServerError verifies a 5xx classifies as an invalid
// response.
func TestDShieldFetch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewDShieldClient(ClientConfig{BaseURL: server.URL})

	_, err := client.Fetch(context.Background(), mustIndicator(t, "203.0.113.9"))
	if err == nil {
		t.Fatal("Fetch should fail on 500")
	}
	if kind := KindOf(err); kind != ErrKindInvalidResponse {
		t.Errorf("error kind = %q, want %q", kind, ErrKindInvalidResponse)
	}
}

// TestDShieldFetch_Unreachable verifies connection failures classify as
// unreachable.
func TestDShieldFetch_Unreachable(t *testing.T) {
	client, _ := NewDShieldClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := client.Fetch(context.Background(), mustIndicator(t, "203.0.113.9"))
	if err == nil {
		t.Fatal("Fetch should fail against a closed port")
	}
	if kind := KindOf(err); kind != ErrKindUnreachable {
		t.Errorf("error kind = %q, want %q", kind, ErrKindUnreachable)
	}
}

// TestDShieldSupports verifies DShield only handles IPs.
func TestDShieldSupports(t *testing.T) {
	client, _ := NewDShieldClient(ClientConfig{})

	if !client.Supports(indicator.KindIP) {
		t.Error("should support IPs")
	}
	if client.Supports(indicator.KindDomain) || client.Supports(indicator.KindHash) {
		t.Error("should not support domains or hashes")
	}
}
