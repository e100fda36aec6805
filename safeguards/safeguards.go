// Package safeguards provides concurrency control and recovery mechanisms
// for generate requests.
package safeguards

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBusy is returned by TryAcquire when every slot is taken.
var ErrBusy = errors.New("no operation slot available")

// OperationGuard bounds the number of concurrent pipeline runs. Each run
// holds an upload, a classifier call and a registry write, so the bound
// protects the downstream services' rate limits.
type OperationGuard struct {
	mu              sync.Mutex
	semaphore       chan struct{}
	maxConcurrent   int
	activeOps       int
	logger          logrus.FieldLogger
	healthCheckFunc func(context.Context) error
}

// GuardConfig configures the operation guard.
type GuardConfig struct {
	// MaxConcurrent is the maximum number of concurrent operations (default: 4)
	MaxConcurrent int
	// Logger for logging operations
	Logger logrus.FieldLogger
	// HealthCheckFunc is called before each operation to verify dependencies
	HealthCheckFunc func(context.Context) error
}

// NewOperationGuard creates a new operation guard.
func NewOperationGuard(cfg GuardConfig) *OperationGuard {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &OperationGuard{
		semaphore:       make(chan struct{}, cfg.MaxConcurrent),
		maxConcurrent:   cfg.MaxConcurrent,
		logger:          cfg.Logger.WithField("component", "operation-guard"),
		healthCheckFunc: cfg.HealthCheckFunc,
	}
}

// Acquire waits for a slot, then runs the health check.
func (g *OperationGuard) Acquire(ctx context.Context, opName string) error {
	g.logger.WithField("operation", opName).Debug("acquiring operation slot")

	select {
	case g.semaphore <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for operation slot: %w", ctx.Err())
	}

	return g.admitted(ctx, opName)
}

// TryAcquire takes a slot without waiting. It returns ErrBusy when the
// guard is saturated.
func (g *OperationGuard) TryAcquire(ctx context.Context, opName string) error {
	select {
	case g.semaphore <- struct{}{}:
	default:
		return ErrBusy
	}
	return g.admitted(ctx, opName)
}

func (g *OperationGuard) admitted(ctx context.Context, opName string) error {
	g.mu.Lock()
	g.activeOps++
	activeOps := g.activeOps
	g.mu.Unlock()

	g.logger.WithFields(logrus.Fields{
		"operation":  opName,
		"active_ops": activeOps,
	}).Debug("acquired operation slot")

	if g.healthCheckFunc != nil {
		if err := g.healthCheckFunc(ctx); err != nil {
			g.Release(opName)
			return fmt.Errorf("health check failed before operation %s: %w", opName, err)
		}
	}

	return nil
}

// Release releases an operation slot.
func (g *OperationGuard) Release(opName string) {
	g.mu.Lock()
	g.activeOps--
	activeOps := g.activeOps
	g.mu.Unlock()

	<-g.semaphore

	g.logger.WithFields(logrus.Fields{
		"operation":  opName,
		"active_ops": activeOps,
	}).Debug("released operation slot")
}

// ActiveOperations returns the number of active operations.
func (g *OperationGuard) ActiveOperations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeOps
}

// Capacity returns the maximum number of concurrent operations.
func (g *OperationGuard) Capacity() int {
	return g.maxConcurrent
}

// WithOperation executes a function with operation guard protection.
func (g *OperationGuard) WithOperation(ctx context.Context, opName string, fn func() error) error {
	if err := g.Acquire(ctx, opName); err != nil {
		return err
	}
	defer g.Release(opName)
	return fn()
}

// RecoverableOperation wraps a function with panic recovery.
func RecoverableOperation(logger logrus.FieldLogger, opName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.WithFields(logrus.Fields{
				"operation": opName,
				"panic":     r,
				"stack":     string(stack),
			}).Error("recovered from panic in operation")
			err = fmt.Errorf("panic in operation %s: %v", opName, r)
		}
	}()
	return fn()
}

// HealthCheck is one named dependency probe.
type HealthCheck func(context.Context) error

// DependencyHealthChecker probes the service's dependencies.
type DependencyHealthChecker struct {
	logger  logrus.FieldLogger
	timeout time.Duration
	checks  map[string]HealthCheck
}

// NewDependencyHealthChecker creates a checker. Each probe gets timeout.
func NewDependencyHealthChecker(timeout time.Duration, logger logrus.FieldLogger) *DependencyHealthChecker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DependencyHealthChecker{
		logger:  logger.WithField("component", "health-checker"),
		timeout: timeout,
		checks:  make(map[string]HealthCheck),
	}
}

// Register adds a named probe.
func (h *DependencyHealthChecker) Register(name string, check HealthCheck) {
	h.checks[name] = check
}

// Status runs every probe and returns the error of each failing one.
func (h *DependencyHealthChecker) Status(ctx context.Context) map[string]error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]error, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](checkCtx)
		cancel()
		if err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("dependency unhealthy")
		}
		out[name] = err
	}
	return out
}

// CheckAll returns the first failing probe, in name order.
func (h *DependencyHealthChecker) CheckAll(ctx context.Context) error {
	status := h.Status(ctx)
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := status[name]; err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
