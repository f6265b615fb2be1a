package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thanksstevenkim/the-hitchhikers-guide-to-the-fediverse/fetch"
)

func testClient(server *httptest.Server) *Client {
	return NewClient(WithFetcher(fetch.NewClient(fetch.WithHTTPClient(server.Client()))))
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func TestFetchPrefersV2Usage(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.Handle("/api/v2/instance", jsonHandler(`{
		"usage": {"users": {"total": 1200, "activeMonth": 300}, "localPosts": 90000},
		"stats": {"user_count": 999, "status_count": 1},
		"registrations": {"enabled": true},
		"configuration": {"languages": ["EN", "de", "en"]},
		"version": "4.2.0"
	}`))
	mux.Handle("/api/v1/instance/peers", jsonHandler(`["peer-a.example", "https://peer-b.example"]`))

	stats, err := testClient(server).Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if stats.UsersTotal == nil || *stats.UsersTotal != 1200 {
		t.Fatalf("usage block should win over stats: %v", stats.UsersTotal)
	}
	if stats.UsersActiveMonth == nil || *stats.UsersActiveMonth != 300 {
		t.Fatalf("users_active_month = %v", stats.UsersActiveMonth)
	}
	if stats.Statuses == nil || *stats.Statuses != 90000 {
		t.Fatalf("statuses = %v", stats.Statuses)
	}
	if stats.SoftwareName != "mastodon" || stats.SoftwareVersion != "4.2.0" {
		t.Fatalf("software = %q %q", stats.SoftwareName, stats.SoftwareVersion)
	}
	if stats.OpenRegistrations == nil || !*stats.OpenRegistrations {
		t.Fatalf("open_registrations = %v", stats.OpenRegistrations)
	}
	if len(stats.Languages) != 2 || stats.Languages[0] != "en" || stats.Languages[1] != "de" {
		t.Fatalf("languages = %v", stats.Languages)
	}
	if len(stats.Peers) != 2 || stats.Peers[0] != "peer-a.example" || stats.Peers[1] != "peer-b.example" {
		t.Fatalf("peers = %v", stats.Peers)
	}
}

func TestFetchFallsBackToV1(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/api/v2/instance", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.Handle("/api/v1/instance", jsonHandler(`{
		"stats": {"user_count": 50, "status_count": 700},
		"registrations": true,
		"languages": ["fr"],
		"version": "3.5.0"
	}`))
	mux.HandleFunc("/api/v1/instance/peers", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	stats, err := testClient(server).Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if stats.UsersTotal == nil || *stats.UsersTotal != 50 {
		t.Fatalf("users_total = %v", stats.UsersTotal)
	}
	if stats.Statuses == nil || *stats.Statuses != 700 {
		t.Fatalf("statuses = %v", stats.Statuses)
	}
	if stats.OpenRegistrations == nil || !*stats.OpenRegistrations {
		t.Fatalf("scalar registrations should coerce: %v", stats.OpenRegistrations)
	}
	// Languages only come from the configuration block or (v2 only) the
	// top-level field; v1 top-level languages are ignored.
	if len(stats.Languages) != 0 {
		t.Fatalf("v1 top-level languages should be ignored: %v", stats.Languages)
	}
	// Peer endpoint failure is advisory.
	if len(stats.Peers) != 0 {
		t.Fatalf("peers = %v", stats.Peers)
	}
	if stats.SoftwareName != "mastodon" || stats.SoftwareVersion != "3.5.0" {
		t.Fatalf("software = %q %q", stats.SoftwareName, stats.SoftwareVersion)
	}
}

func TestFetchBothEndpointsDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := testClient(server).Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error when both instance endpoints fail")
	}
}
