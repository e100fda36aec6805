package perf

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPipelineMetrics_Record(t *testing.T) {
	m := NewPipelineMetrics()
	m.Record(StepUpload, 20*time.Millisecond)
	m.Record(StepUpload, 5*time.Millisecond)
	m.RecordSeedDraw(true)
	m.RecordSeedDraw(false)
	m.TotalDuration = 100 * time.Millisecond

	if got := m.StepDuration(StepUpload); got != 25*time.Millisecond {
		t.Fatalf("upload duration = %v", got)
	}
	if m.SeedDraws != 2 || m.SeedCollisions != 1 {
		t.Fatalf("seed counts = %d/%d", m.SeedDraws, m.SeedCollisions)
	}
	sum := m.Summary()
	if !strings.Contains(sum, "upload:") || !strings.Contains(sum, "25.0%") {
		t.Fatalf("summary missing upload line:\n%s", sum)
	}
}

func TestMetricsContext(t *testing.T) {
	if MetricsFromContext(context.Background()) != nil {
		t.Fatal("empty context returned metrics")
	}
	m := NewPipelineMetrics()
	if MetricsFromContext(WithMetrics(context.Background(), m)) != m {
		t.Fatal("metrics not round-tripped through context")
	}
}
