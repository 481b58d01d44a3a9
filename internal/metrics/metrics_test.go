package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	if harvestPagesTotal == nil || compactBatchesTotal == nil || compactPendingUnits == nil {
		t.Fatal("Init() did not initialize collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(harvestItemsTotal.WithLabelValues("t-observers", "skipped"))
	ObserveItem("t-observers", "skipped")
	if got := testutil.ToFloat64(harvestItemsTotal.WithLabelValues("t-observers", "skipped")); got != before+1 {
		t.Errorf("expected item counter to grow by 1, got %f -> %f", before, got)
	}

	ObserveManifestURLs("imgs-test", 0)
	ObserveManifestURLs("imgs-test", 3)
	if got := testutil.ToFloat64(harvestManifestURLsTotal.WithLabelValues("imgs-test")); got != 3 {
		t.Errorf("expected 3 manifest urls, got %f", got)
	}

	SetPending(4)
	if got := testutil.ToFloat64(compactPendingUnits); got != 4 {
		t.Errorf("expected pending gauge 4, got %f", got)
	}

	ObservePage("t", "ok")
	ObserveUnit("fetched")
	ObserveBatch("archived")
	ObserveUpload("failed")
	ObserveHTTPRequest("GET", "/healthz", 200, time.Millisecond)
	ObserveRateLimitDelay("example.com", time.Second)
}

