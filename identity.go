package xiim

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/oklog/ulid/v2"
)

// RequestIDPrefix marks identifiers issued for generate requests.
const RequestIDPrefix = "vix_"

// SourceHash returns the SHA-256 content hash of the source image bytes as
// lowercase hex. Two byte-identical images always share a source hash.
func SourceHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint derives the combined fingerprint of a (source image, variant
// seed) pair.
//
// The fingerprint is the unit of duplicate detection: the registry stores one
// row per fingerprint, and a repeated fingerprint means the same source was
// already rendered with the same seed.
//
// # Example
//
//	fp1 := Fingerprint(SourceHash(img), "s_3f9a1c2b7d4e")
//	fp2 := Fingerprint(SourceHash(img), "s_3f9a1c2b7d4e")
//	// fp1 == fp2 (guaranteed)
func Fingerprint(sourceHash, seed string) string {
	h := sha256.Sum256([]byte(sourceHash + "_" + seed))
	return hex.EncodeToString(h[:])
}

// NewRequestID returns a fresh, time-sortable request identifier with the
// "vix_" prefix (e.g. "vix_01j9z3k8x2...").
func NewRequestID() string {
	return RequestIDPrefix + strings.ToLower(ulid.Make().String())
}
