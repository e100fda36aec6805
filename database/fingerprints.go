package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xivix/xiim/registry"
)

// LookupFingerprint returns the request id that registered fingerprint.
func (d *DB) LookupFingerprint(ctx context.Context, fingerprint string) (string, bool, error) {
	var requestID string
	err := d.db.QueryRowContext(ctx,
		`SELECT request_id FROM hash_registry WHERE combined_hash = ?`, fingerprint,
	).Scan(&requestID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query hash registry: %w", err)
	}
	return requestID, true, nil
}

// InsertFingerprint records fingerprint for requestID.
//
// The row is guarded by the UNIQUE constraint on combined_hash. If another
// request already holds the fingerprint the returned error wraps
// registry.ErrFingerprintExists and names the holder when it can be read.
func (d *DB) InsertFingerprint(ctx context.Context, fingerprint, requestID string) error {
	query := `INSERT INTO hash_registry (combined_hash, request_id) VALUES (?, ?)`
	_, err := d.db.ExecContext(ctx, query, fingerprint, requestID)
	if err != nil {
		if isUniqueViolation(err) {
			if holder, found, lookupErr := d.LookupFingerprint(ctx, fingerprint); lookupErr == nil && found {
				return fmt.Errorf("%w: held by %s", registry.ErrFingerprintExists, holder)
			}
			return registry.ErrFingerprintExists
		}
		return fmt.Errorf("failed to insert fingerprint: %w", err)
	}
	return nil
}

// CountFingerprints returns the number of registered fingerprints.
func (d *DB) CountFingerprints(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hash_registry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return n, nil
}

// isUniqueViolation reports a UNIQUE constraint failure. Other constraint
// failures (NOT NULL, CHECK) are real errors.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
