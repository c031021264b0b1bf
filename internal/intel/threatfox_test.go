package intel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestThreatFoxFetch_Match verifies a search hit is mapped onto the
// common report shape, with malware names folded into the tags.
func TestThreatFoxFetch_Match(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("request body not JSON: %v", err)
		}
		if req["query"] != "search_ioc" || req["search_term"] != "198.51.100.7" {
			t.Errorf("unexpected query body: %v", req)
		}
		w.Write([]byte(`{"query_status":"ok","data":[
			{"id":"1","ioc":"198.51.100.7","threat_type":"botnet_cc","malware_printable":"Cobalt Strike","confidence_level":75,"tags":["c2"]},
			{"id":"2","ioc":"198.51.100.7","threat_type":"botnet_cc","malware_printable":"Cobalt Strike","confidence_level":50,"tags":null}]}`))
	}))
	defer server.Close()

	client, err := NewThreatFoxClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewThreatFoxClient: %v", err)
	}

	report, err := client.Fetch(context.Background(), mustIndicator(t, "198.51.100.7"))
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}

	if report.Score == nil || *report.Score != 75 {
		t.Errorf("score = %v, want 75 (first entry)", report.Score)
	}
	if len(report.Tags) != 3 {
		t.Errorf("tags = %v, want malware names and c2", report.Tags)
	}
	if len(report.Categories) != 2 || report.Categories[0] != "botnet_cc" {
		t.Errorf("categories = %v, want [botnet_cc botnet_cc]", report.Categories)
	}
}

// TestThreatFoxFetch_NoResult verifies the no_result envelope (whose data
// field is a string, not a list) reports an empty report.
func TestThreatFoxFetch_NoResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query_status":"no_result","data":"Your search did not yield any result"}`))
	}))
	defer server.Close()

	client, _ := NewThreatFoxClient(ClientConfig{BaseURL: server.URL})

	report, err := client.Fetch(context.Background(), mustIndicator(t, "198.51.100.7"))
	if err != nil {
		t.Fatalf("Fetch should succeed on no_result: %v", err)
	}
	if report.Score != nil {
		t.Errorf("score should be nil on no_result, got %v", *report.Score)
	}
	if len(report.Tags) != 0 {
		t.Errorf("tags should be empty, got %v", report.Tags)
	}
}
