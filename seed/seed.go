// Package seed derives variant seeds.
//
// A variant seed is a short, unpredictable token that, combined with the
// source image hash, identifies one rendered derivative. Seeds are drawn from
// the OS entropy source; if entropy cannot be read the draw fails rather than
// degrading to a predictable value.
package seed

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	// Prefix marks variant seeds.
	Prefix = "s_"
	// HexLength is the number of hash hex characters kept after the prefix.
	HexLength = 12
	// entropyBytes is the number of random bytes mixed into each seed.
	entropyBytes = 16
)

// ErrEntropy is returned when secure random bytes cannot be obtained.
var ErrEntropy = errors.New("secure entropy unavailable")

// Generator draws variant seeds. The zero value is not usable; use New.
type Generator struct {
	entropy io.Reader
	now     func() time.Time
}

// Option customizes a Generator.
type Option func(*Generator)

// WithEntropy replaces the entropy source (crypto/rand by default).
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = r }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New creates a Generator backed by crypto/rand and time.Now.
func New(opts ...Option) *Generator {
	g := &Generator{entropy: rand.Reader, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns "s_" followed by the first 12 hex characters of
// sha256("<salt>_<unix millis>_<32 random hex chars>").
//
// The salt is normally the user id; retries pass a RetrySalt instead.
func (g *Generator) Generate(salt string) (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}

	material := salt + "_" + strconv.FormatInt(g.now().UnixMilli(), 10) + "_" + hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(material))
	return Prefix + hex.EncodeToString(sum[:])[:HexLength], nil
}

// Now returns the generator's current time.
func (g *Generator) Now() time.Time {
	return g.now()
}

// RetrySalt builds the salt used for the n-th redraw after a collision.
func RetrySalt(userID string, now time.Time, attempt int) string {
	return userID + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + strconv.Itoa(attempt)
}

// Valid reports whether s has the shape of a variant seed.
func Valid(s string) bool {
	if len(s) != len(Prefix)+HexLength || s[:len(Prefix)] != Prefix {
		return false
	}
	for _, c := range s[len(Prefix):] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
