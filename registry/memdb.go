package registry

import (
	"context"
	"fmt"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

const fingerprintTable = "fingerprints"

type fingerprintRow struct {
	Fingerprint string
	RequestID   string
	CreatedAt   time.Time
}

// MemStore is an in-process Store backed by go-memdb. It is used for tests
// and single-instance deployments that do not need durability.
type MemStore struct {
	db *memdb.MemDB
}

// NewMemStore creates an empty MemStore.
func NewMemStore() (*MemStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			fingerprintTable: {
				Name: fingerprintTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Fingerprint"},
					},
					"request": {
						Name:    "request",
						Indexer: &memdb.StringFieldIndex{Field: "RequestID"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint table: %w", err)
	}
	return &MemStore{db: db}, nil
}

func (m *MemStore) LookupFingerprint(_ context.Context, fingerprint string) (string, bool, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(fingerprintTable, "id", fingerprint)
	if err != nil {
		return "", false, fmt.Errorf("failed to query fingerprint: %w", err)
	}
	if raw == nil {
		return "", false, nil
	}
	return raw.(*fingerprintRow).RequestID, true, nil
}

// InsertFingerprint inserts under memdb's single-writer transaction, which
// makes the existence check and the insert atomic.
func (m *MemStore) InsertFingerprint(_ context.Context, fingerprint, requestID string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(fingerprintTable, "id", fingerprint)
	if err != nil {
		return fmt.Errorf("failed to query fingerprint: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: held by %s", ErrFingerprintExists, existing.(*fingerprintRow).RequestID)
	}
	row := &fingerprintRow{Fingerprint: fingerprint, RequestID: requestID, CreatedAt: time.Now()}
	if err := txn.Insert(fingerprintTable, row); err != nil {
		return fmt.Errorf("failed to insert fingerprint: %w", err)
	}
	txn.Commit()
	return nil
}

// Len returns the number of registered fingerprints.
func (m *MemStore) Len() int {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(fingerprintTable, "id")
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}
