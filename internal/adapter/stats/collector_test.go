package stats

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coxyhq/coxy/internal/core/domain"
)

func TestCollectorCountsOutcomes(t *testing.T) {
	c := NewCollector()
	const key = "http://127.0.0.1:11434"

	c.RecordSelection(key)
	c.RecordOutcome(key, domain.OutcomeSucceeded, 1024, 100*time.Millisecond)

	c.RecordSelection(key)
	c.RecordOutcome(key, domain.OutcomeFailedMidStream, 64, 50*time.Millisecond)

	c.RecordSelection(key)
	c.RecordOutcome(key, domain.OutcomeClientCanceled, 0, 10*time.Millisecond)

	all := c.UpstreamStats()
	got, ok := all[key]
	if !ok {
		t.Fatalf("no stats recorded for %s", key)
	}

	if got.TotalRequests != 3 {
		t.Errorf("total %d, want 3", got.TotalRequests)
	}
	if got.SuccessfulRequests != 1 {
		t.Errorf("succeeded %d, want 1", got.SuccessfulRequests)
	}
	if got.FailedRequests != 1 {
		t.Errorf("failed %d, want 1", got.FailedRequests)
	}
	if got.CanceledRequests != 1 {
		t.Errorf("canceled %d, want 1", got.CanceledRequests)
	}
	if got.BytesStreamed != 1088 {
		t.Errorf("bytes %d, want 1088", got.BytesStreamed)
	}
	if got.LastOutcome != "client_canceled" {
		t.Errorf("last outcome %q, want client_canceled", got.LastOutcome)
	}
}

func TestCollectorMetricsExposition(t *testing.T) {
	c := NewCollector()
	const key = "http://127.0.0.1:11434"

	c.RecordSelection(key)
	c.RecordOutcome(key, domain.OutcomeSucceeded, 2048, 200*time.Millisecond)

	req := httptest.NewRequest("GET", "/internal/metrics", nil)
	rec := httptest.NewRecorder()
	c.MetricsHandler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	exposition := string(body)

	for _, want := range []string{
		"coxy_requests_total",
		`outcome="succeeded"`,
		"coxy_streamed_bytes_total",
		"coxy_upstream_inflight",
	} {
		if !strings.Contains(exposition, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
