package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCloneStarted(1024)
	m.RecordStage("normalize", 50*time.Millisecond)
	m.RecordCloneFinished("success", time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("Expected metrics to be registered")
	}

	// A second set on a fresh registry must not collide.
	NewMetrics(prometheus.NewRegistry())
}

func TestRecordCloneFinished(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCloneStarted(100)
	m.RecordCloneStarted(100)
	m.RecordCloneFinished("success", time.Second)
	m.RecordCloneFinished("validation", time.Millisecond)

	if got := testutil.ToFloat64(m.ActiveRequests); got != 0 {
		t.Errorf("Expected no active requests, got %f", got)
	}
	if got := testutil.ToFloat64(m.CloneRequests.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 success, got %f", got)
	}
	if got := testutil.ToFloat64(m.CloneRequests.WithLabelValues("validation")); got != 1 {
		t.Errorf("Expected 1 validation failure, got %f", got)
	}
}

func TestRecordModelLoad(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordModelLoad(time.Second, errors.New("no such model"))
	if got := testutil.ToFloat64(m.EngineLoaded); got != 0 {
		t.Errorf("Expected engine not loaded, got %f", got)
	}
	if got := testutil.ToFloat64(m.ModelLoads.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed load, got %f", got)
	}

	m.RecordModelLoad(time.Second, nil)
	if got := testutil.ToFloat64(m.EngineLoaded); got != 1 {
		t.Errorf("Expected engine loaded, got %f", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHTTPRequest("POST", "/api/clone-voice", "200", 0.5)
	m.RecordHTTPRequest("POST", "/api/clone-voice", "200", 0.7)
	m.RecordHTTPError("POST", "/api/clone-voice", "client_error")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/clone-voice", "200")); got != 2 {
		t.Errorf("Expected 2 requests, got %f", got)
	}
	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("POST", "/api/clone-voice", "client_error")); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
}
