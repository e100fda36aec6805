// Package registry records which (source image, variant seed) pairs have
// already been rendered.
//
// The registry is append-only: each combined fingerprint maps to exactly one
// request id for as long as the store retains it. Uniqueness is enforced by
// the backing store, never by in-process locking, so concurrent requests in
// different processes may race and the loser receives ErrFingerprintExists.
//
// Lookups fail open. A store that cannot answer is reported as "not a
// duplicate" so that registry outages degrade duplicate avoidance rather
// than availability.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim"
)

// ErrFingerprintExists is returned by Register (and by stores' Insert) when
// the fingerprint is already recorded.
var ErrFingerprintExists = errors.New("fingerprint already registered")

// Store is a uniqueness-constrained fingerprint table.
type Store interface {
	// LookupFingerprint returns the request id recorded for fingerprint.
	LookupFingerprint(ctx context.Context, fingerprint string) (requestID string, found bool, err error)
	// InsertFingerprint records fingerprint for requestID. It must return an
	// error wrapping ErrFingerprintExists if the fingerprint is present.
	InsertFingerprint(ctx context.Context, fingerprint, requestID string) error
}

// Observer receives registry anomalies. metrics.Metrics implements it.
type Observer interface {
	RegistryError(op string)
}

// Duplicate is the outcome of a duplicate check.
type Duplicate struct {
	IsDuplicate bool
	// ExistingID is the request id that owns the fingerprint, if any.
	ExistingID string
}

// Registry answers duplicate checks and records new fingerprints.
type Registry struct {
	store    Store
	logger   logrus.FieldLogger
	observer Observer
}

// New creates a Registry over store. observer may be nil.
func New(store Store, logger logrus.FieldLogger, observer Observer) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		store:    store,
		logger:   logger.WithField("component", "registry"),
		observer: observer,
	}
}

// CheckDuplicate reports whether (sourceHash, seed) has been registered.
// Store errors are logged and reported as not duplicate.
func (r *Registry) CheckDuplicate(ctx context.Context, sourceHash, seed string) Duplicate {
	fp := xiim.Fingerprint(sourceHash, seed)
	id, found, err := r.store.LookupFingerprint(ctx, fp)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"fingerprint": fp,
			"seed":        seed,
		}).Warn("duplicate check failed, treating as unique")
		r.observe("check")
		return Duplicate{}
	}
	if !found {
		return Duplicate{}
	}
	return Duplicate{IsDuplicate: true, ExistingID: id}
}

// Register records (sourceHash, seed) for requestID. A concurrent or earlier
// registration of the same pair returns an error wrapping
// ErrFingerprintExists.
func (r *Registry) Register(ctx context.Context, sourceHash, seed, requestID string) error {
	fp := xiim.Fingerprint(sourceHash, seed)
	if err := r.store.InsertFingerprint(ctx, fp, requestID); err != nil {
		if errors.Is(err, ErrFingerprintExists) {
			return err
		}
		r.observe("register")
		return fmt.Errorf("failed to register fingerprint %s: %w", fp, err)
	}
	return nil
}

func (r *Registry) observe(op string) {
	if r.observer != nil {
		r.observer.RegistryError(op)
	}
}
