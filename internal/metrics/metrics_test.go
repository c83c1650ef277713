package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		switch {
		case pb.Counter != nil:
			total += pb.Counter.GetValue()
		case pb.Gauge != nil:
			total += pb.Gauge.GetValue()
		}
	}
	return total
}

func TestInit_Idempotent(t *testing.T) {
	m1 := Init("eryx_test_idempotent")
	m2 := Init("eryx_test_idempotent")
	if m1 != m2 {
		t.Fatalf("Init returned different instances on second call")
	}
}

func TestRecordExecution_IncrementsCounterAndHistogram(t *testing.T) {
	m := newMetrics("eryx_test_exec")
	m.RecordExecution("success", 10*time.Millisecond, 1000)

	if got := counterValue(t, m.executionsTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("executionsTotal = %v, want 1", got)
	}
}

func TestRecordCacheHitMiss(t *testing.T) {
	m := newMetrics("eryx_test_cache")
	m.RecordCacheHit("memory")
	m.RecordCacheMiss("file")

	if got := counterValue(t, m.cacheHitsTotal.WithLabelValues("memory")); got != 1 {
		t.Fatalf("cacheHitsTotal = %v, want 1", got)
	}
	if got := counterValue(t, m.cacheMissesTotal.WithLabelValues("file")); got != 1 {
		t.Fatalf("cacheMissesTotal = %v, want 1", got)
	}
}

func TestActiveExecutions_IncDec(t *testing.T) {
	m := newMetrics("eryx_test_active")
	m.IncActiveExecutions()
	m.IncActiveExecutions()
	m.DecActiveExecutions()

	if got := counterValue(t, m.activeExecutions); got != 1 {
		t.Fatalf("activeExecutions = %v, want 1", got)
	}
}

func TestNilMetrics_AllMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordExecution("success", time.Second, 1)
	m.RecordCallback("x", "success", time.Millisecond)
	m.RecordCacheHit("memory")
	m.RecordCacheMiss("memory")
	m.SetPoolTemplateInstances("t", 1)
	m.RecordNetworkConnection("allowed")
	m.IncActiveExecutions()
	m.DecActiveExecutions()
}

func TestHandler_BeforeInit_ReturnsUnavailable(t *testing.T) {
	saved := current
	current = nil
	defer func() { current = saved }()

	if Registry() != nil {
		t.Fatalf("Registry() should be nil before Init")
	}
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Handler() before Init: status %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
