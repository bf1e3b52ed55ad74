package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterRender(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("meetingbot_joins_total", map[string]string{"platform": "meet", "status": "ok"})
	r.IncCounter("meetingbot_joins_total", map[string]string{"platform": "meet", "status": "ok"})
	r.IncCounter("meetingbot_joins_total", map[string]string{"platform": "zoom", "status": "error"})

	out := r.Render()
	if !strings.Contains(out, `meetingbot_joins_total{platform="meet",status="ok"} 2`) {
		t.Fatalf("missing meet counter line:\n%s", out)
	}
	if !strings.Contains(out, `meetingbot_joins_total{platform="zoom",status="error"} 1`) {
		t.Fatalf("missing zoom counter line:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE meetingbot_joins_total counter") {
		t.Fatalf("missing TYPE line:\n%s", out)
	}
}

func TestGaugeSetAndAdd(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("meetingbot_active_sessions", 3, nil)
	r.AddGauge("meetingbot_active_sessions", -1, nil)

	out := r.Render()
	if !strings.Contains(out, "meetingbot_active_sessions 2") {
		t.Fatalf("gauge line missing:\n%s", out)
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry()
	r.RegisterHistogram("test_latency_ms", "Test.", []float64{10, 100})
	r.ObserveHistogram("test_latency_ms", 5, nil)
	r.ObserveHistogram("test_latency_ms", 50, nil)
	r.ObserveHistogram("test_latency_ms", 500, nil)

	out := r.Render()
	for _, want := range []string{
		`test_latency_ms_bucket{le="10"} 1`,
		`test_latency_ms_bucket{le="100"} 2`,
		`test_latency_ms_bucket{le="+Inf"} 3`,
		`test_latency_ms_sum 555`,
		`test_latency_ms_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestUnknownMetricIgnored(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("not_registered_total", nil)
	// Type mismatch is ignored the same way.
	r.ObserveHistogram("meetingbot_joins_total", 1, nil)

	out := r.Render()
	if strings.Contains(out, "not_registered_total") {
		t.Fatalf("unregistered metric rendered:\n%s", out)
	}
}

func TestHandlerContentType(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("meetingbot_heartbeats_total", map[string]string{"status": "ok"})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("content type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "meetingbot_heartbeats_total") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestLabelQuoting(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("meetingbot_joins_total", map[string]string{"platform": `va"lue`})

	out := r.Render()
	if !strings.Contains(out, `platform="va\"lue"`) {
		t.Fatalf("label not quoted:\n%s", out)
	}
}
