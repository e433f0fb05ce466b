package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tunelink "github.com/tunelink/tunelink"
)

type fakeSource struct {
	snapshot tunelink.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tunelink.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tunelink.MetricsSnapshot{
			Counters:   map[tunelink.MetricID]uint64{},
			Histograms: map[tunelink.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tunelink.MetricsSnapshot{
			Counters: map[tunelink.MetricID]uint64{
				tunelink.MetricProofGenerated: 7,
			},
			Histograms: map[tunelink.MetricID][]uint64{
				tunelink.MetricProofValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "tunelink_proof_generated_total 7") {
		t.Fatalf("expected proof_generated counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "tunelink_proof_validate_latency_microseconds_bucket{le=\"1\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "tunelink_proof_validate_latency_microseconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "tunelink_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tunelink.MetricsSnapshot{
			Counters:   map[tunelink.MetricID]uint64{tunelink.MetricRefreshSuccess: 1},
			Histograms: map[tunelink.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tunelink.MetricsSnapshot{
			Counters: map[tunelink.MetricID]uint64{
				tunelink.MetricFarcasterAuthSet: 120,
				tunelink.MetricSpotifyAuthSet:   115,
				tunelink.MetricRefreshSuccess:   900,
				tunelink.MetricRefreshFailure:   12,
				tunelink.MetricProofGenerated:   4000,
				tunelink.MetricProofValid:       3900,
				tunelink.MetricProofStored:      3800,
			},
			Histograms: map[tunelink.MetricID][]uint64{
				tunelink.MetricProofValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
