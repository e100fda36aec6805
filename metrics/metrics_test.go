package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Run("completed")
	m.Step("compose", time.Millisecond)
	m.SeedCollision()
	m.SeedExhausted()
	m.RegistryError("check")
	m.RegisterConflict()
	m.ZoneFallback("timeout")
	m.SourceOrigin("sample")
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.SeedCollision()
	m.SeedCollision()
	m.RegistryError("check")
	m.Run("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"xiim_seed_collisions_total 2",
		`xiim_registry_errors_total{op="check"} 1`,
		`xiim_pipeline_runs_total{status="completed"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
