package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// NewMetrics() registers against the default registry; exercise it once
	// without asserting on registry contents to avoid colliding with other
	// packages' metrics in the same test binary.
	m := NewMetrics()
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
}

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.ToolExecutionCounter.WithLabelValues("read_file", "success").Inc()
	m.ToolExecutionDuration.WithLabelValues("read_file").Observe(0.02)
	m.ToolRetryCounter.WithLabelValues("run_command").Inc()
	m.GateCheckCounter.WithLabelValues("pytest", "passed").Inc()
	m.GateCheckDuration.WithLabelValues("pytest").Observe(1.5)
	m.FixAttemptCounter.WithLabelValues("install-package", "applied").Inc()
	m.BlockersCreated.WithLabelValues("requirements-ambiguity").Inc()
	m.CompactionRuns.WithLabelValues("tool_result").Inc()
	m.EventQueueDepth.WithLabelValues("task-1").Set(3)
	m.EventsDropped.WithLabelValues("task-1").Inc()
	m.LoopIterations.WithLabelValues("completed").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestToolExecutionCounterLabelsIndependent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.ToolExecutionCounter.WithLabelValues("edit_file", "error").Inc()
	m.ToolExecutionCounter.WithLabelValues("edit_file", "success").Inc()

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("edit_file", "error")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("edit_file", "success")); got != 1 {
		t.Fatalf("success counter = %v, want 1", got)
	}
}
