// Package fingerprint derives stable, content-addressed identities for
// extracted records so deduplication survives checkpoint round-trips.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize canonicalizes a title for identity comparison: surrounding
// whitespace is trimmed and the text is case-folded.
func Normalize(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Title returns the hex SHA-256 digest of the normalized title, or the empty
// string when the title normalizes to nothing.
func Title(title string) string {
	norm := Normalize(title)
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
