// Package ids derives deterministic identifiers so that identical
// inputs always map to the same record.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Derive hashes the parts into a short stable id with the given
// prefix. Identical inputs always produce the same id.
func Derive(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return prefix + "_" + hex.EncodeToString(sum[:])[:24]
}
