package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim/metrics"
	"github.com/xivix/xiim/perf"
	"github.com/xivix/xiim/registry"
	"github.com/xivix/xiim/seed"
)

// MaxSeedRetries is the default number of redraws after a colliding seed.
const MaxSeedRetries = 3

// DuplicateChecker reports whether a (source, seed) pair is registered.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, sourceHash, seed string) registry.Duplicate
}

// SeedResolution is the outcome of seed resolution for one variant.
type SeedResolution struct {
	Seed string
	// Draws counts every seed drawn, including the first.
	Draws int
	// Exhausted is set when every draw collided and the last seed was kept.
	Exhausted bool
}

// SeedResolver draws a variant seed that has not been used for a source.
type SeedResolver struct {
	seeds      *seed.Generator
	checker    DuplicateChecker
	maxRetries int
	metrics    *metrics.Metrics
	logger     logrus.FieldLogger
}

// NewSeedResolver creates a SeedResolver. A negative maxRetries disables redraws.
func NewSeedResolver(seeds *seed.Generator, checker DuplicateChecker, maxRetries int, m *metrics.Metrics, logger logrus.FieldLogger) *SeedResolver {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SeedResolver{
		seeds:      seeds,
		checker:    checker,
		maxRetries: maxRetries,
		metrics:    m,
		logger:     logger,
	}
}

// Resolve draws an initial seed salted with userID, then redraws up to the
// retry bound while the combined fingerprint is already registered. When
// the bound is reached the last seed is returned with Exhausted set. Only an
// entropy failure is an error.
func (r *SeedResolver) Resolve(ctx context.Context, userID, sourceHash string) (SeedResolution, error) {
	logger := r.logger.WithField("step", perf.StepSeed)
	pm := perf.MetricsFromContext(ctx)

	s, err := r.seeds.Generate(userID)
	if err != nil {
		return SeedResolution{}, fmt.Errorf("initial seed draw: %w", err)
	}
	res := SeedResolution{Seed: s, Draws: 1}

	for attempt := 0; ; attempt++ {
		dup := r.checker.CheckDuplicate(ctx, sourceHash, res.Seed)
		if pm != nil {
			pm.RecordSeedDraw(dup.IsDuplicate)
		}
		if !dup.IsDuplicate {
			return res, nil
		}

		r.metrics.SeedCollision()
		logger.WithFields(logrus.Fields{
			"seed":        res.Seed,
			"existing_id": dup.ExistingID,
			"attempt":     attempt,
		}).Info("variant seed collision")

		if attempt >= r.maxRetries {
			res.Exhausted = true
			r.metrics.SeedExhausted()
			logger.WithFields(logrus.Fields{
				"seed":        res.Seed,
				"source_hash": sourceHash,
				"draws":       res.Draws,
			}).Warn("seed retries exhausted, keeping last seed")
			return res, nil
		}

		s, err := r.seeds.Generate(seed.RetrySalt(userID, r.seeds.Now(), attempt+1))
		if err != nil {
			return SeedResolution{}, fmt.Errorf("seed redraw %d: %w", attempt+1, err)
		}
		res.Seed = s
		res.Draws++
	}
}
