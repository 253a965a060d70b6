package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestLabels(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.ObserveRequest("llm-gateway", "POST", 200, 150*time.Millisecond)
	m.ObserveRequest("llm-gateway", "POST", 200, 80*time.Millisecond)
	m.ObserveRequest("llm-gateway", "POST", 503, time.Second)
	m.ObserveRequest("llm-gateway", "POST", 0, time.Second)

	expected := `
		# HELP aria_requests_total Total outbound transport requests by endpoint and status
		# TYPE aria_requests_total counter
		aria_requests_total{endpoint="llm-gateway",method="POST",status_code="2xx"} 2
		aria_requests_total{endpoint="llm-gateway",method="POST",status_code="5xx"} 1
		aria_requests_total{endpoint="llm-gateway",method="POST",status_code="transport_error"} 1
	`
	if err := testutil.CollectAndCompare(m.RequestCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordIterationTokens(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordIteration("claude-sonnet-4", 120, 40)
	m.RecordIteration("claude-sonnet-4", 80, 0)

	expected := `
		# HELP aria_llm_tokens_total Tokens consumed by model and type
		# TYPE aria_llm_tokens_total counter
		aria_llm_tokens_total{model="claude-sonnet-4",type="completion"} 40
		aria_llm_tokens_total{model="claude-sonnet-4",type="prompt"} 200
	`
	if err := testutil.CollectAndCompare(m.TokenCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if got := testutil.ToFloat64(m.IterationCounter.WithLabelValues("claude-sonnet-4")); got != 2 {
		t.Errorf("iterations = %v, want 2", got)
	}
}

func TestRecordDispatch(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordDispatch("work_cycle", "ok")
	m.RecordDispatch("work_cycle", "ok")
	m.RecordDispatch("heartbeat", "error")

	if got := testutil.ToFloat64(m.DispatchCounter.WithLabelValues("work_cycle", "ok")); got != 2 {
		t.Errorf("work_cycle ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DispatchCounter.WithLabelValues("heartbeat", "error")); got != 1 {
		t.Errorf("heartbeat error = %v, want 1", got)
	}
}

func TestStatusLabel(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		204: "2xx",
		404: "4xx",
		500: "5xx",
		503: "5xx",
		0:   "transport_error",
		101: "other",
	}
	for code, want := range cases {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", "json", &buf)
	logger.Debug("hello", "component", "test")
	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	logger = NewLogger("info", "text", &buf)
	logger.Debug("dropped")
	if buf.Len() != 0 {
		t.Errorf("debug line emitted at info level: %q", buf.String())
	}
	logger.Info("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("text output = %q", buf.String())
	}
}
