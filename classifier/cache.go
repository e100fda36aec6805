package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Cache stores raw model responses by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

var responsesBucket = []byte("responses")

// DefaultCacheTTL is how long a cached response is served.
const DefaultCacheTTL = 7 * 24 * time.Hour

type cacheEntry struct {
	Text     string    `json:"text"`
	StoredAt time.Time `json:"stored_at"`
}

// BoltCache is a Cache backed by a bbolt file. Read and write failures are
// logged and treated as misses.
type BoltCache struct {
	db     *bolt.DB
	ttl    time.Duration
	logger logrus.FieldLogger
	now    func() time.Time
}

// OpenBoltCache opens or creates the cache file at path.
func OpenBoltCache(path string, ttl time.Duration, logger logrus.FieldLogger) (*BoltCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open classifier cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responsesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BoltCache{
		db:     db,
		ttl:    ttl,
		logger: logger.WithField("component", "classifier-cache"),
		now:    time.Now,
	}, nil
}

// Close releases the cache file.
func (c *BoltCache) Close() error {
	return c.db.Close()
}

// Get returns an unexpired entry.
func (c *BoltCache) Get(_ context.Context, key string) (string, bool) {
	var entry cacheEntry
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(responsesBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("failed to read cache entry")
		return "", false
	}
	if !found || c.now().Sub(entry.StoredAt) > c.ttl {
		return "", false
	}
	return entry.Text, true
}

// Set stores value under key.
func (c *BoltCache) Set(_ context.Context, key, value string) {
	data, err := json.Marshal(cacheEntry{Text: value, StoredAt: c.now()})
	if err != nil {
		return
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(responsesBucket).Put([]byte(key), data)
	})
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("failed to write cache entry")
	}
}

// Len returns the number of stored entries, expired or not.
func (c *BoltCache) Len() int {
	n := 0
	c.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(responsesBucket).Stats().KeyN
		return nil
	})
	return n
}
