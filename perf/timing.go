// Package perf provides performance measurement utilities for the generate pipeline.
package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks operation timing for performance analysis.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
}

// Start begins timing an operation.
func Start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{
		name:      name,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Stop ends timing and logs the duration.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.name,
			"duration_ms": duration.Milliseconds(),
		}).Info("operation completed")
	}
	return duration
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	fields := logrus.Fields{
		"operation":   t.name,
		"duration_ms": duration.Milliseconds(),
	}
	if t.logger != nil {
		if duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}

// Step names recorded by the pipeline.
const (
	StepAcquire  = "acquire"
	StepInspect  = "inspect"
	StepSeed     = "seed"
	StepUpload   = "upload"
	StepArchive  = "archive"
	StepClassify = "classify"
	StepCompose  = "compose"
	StepRegister = "register"
	StepLogWrite = "log-write"
)

var stepOrder = []string{
	StepAcquire, StepInspect, StepSeed, StepUpload, StepArchive,
	StepClassify, StepCompose, StepRegister, StepLogWrite,
}

// PipelineMetrics tracks timing for one generate request.
type PipelineMetrics struct {
	mu sync.Mutex

	TotalDuration time.Duration
	steps         map[string]time.Duration

	// Counts
	SeedDraws        int
	SeedCollisions   int
	ClassifierCached bool
}

// NewPipelineMetrics creates a new metrics tracker.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{steps: make(map[string]time.Duration)}
}

// Record adds d to the named step.
func (m *PipelineMetrics) Record(step string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step] += d
}

// RecordSeedDraw counts one seed draw and whether it collided.
func (m *PipelineMetrics) RecordSeedDraw(collided bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SeedDraws++
	if collided {
		m.SeedCollisions++
	}
}

// StepDuration returns the accumulated duration of a step.
func (m *PipelineMetrics) StepDuration(step string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[step]
}

// Summary returns a formatted summary of the metrics.
func (m *PipelineMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := fmt.Sprintf("\n=== Pipeline Performance Metrics ===\nTotal Duration:        %v\n\nStep Durations:\n", m.TotalDuration)
	for _, step := range stepOrder {
		d := m.steps[step]
		var pct float64
		if m.TotalDuration > 0 {
			pct = float64(d) / float64(m.TotalDuration) * 100
		}
		s += fmt.Sprintf("  %-20s %v (%.1f%%)\n", step+":", d, pct)
	}
	s += fmt.Sprintf("\nSeed draws:            %d (%d collisions)\nClassifier cache hit:  %v\n",
		m.SeedDraws, m.SeedCollisions, m.ClassifierCached)
	return s
}

// contextKey is used to store metrics in context.
type contextKey struct{}

// WithMetrics adds metrics to context.
func WithMetrics(ctx context.Context, m *PipelineMetrics) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// MetricsFromContext retrieves metrics from context.
func MetricsFromContext(ctx context.Context) *PipelineMetrics {
	m, _ := ctx.Value(contextKey{}).(*PipelineMetrics)
	return m
}
