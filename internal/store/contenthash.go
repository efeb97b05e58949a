package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash fingerprints the content-affecting fields of an instruction.
// The hash, not byte equality of individual fields, decides whether an
// edit produces a new version: trailing whitespace and enum casing are
// normalized away first so trivial re-saves stay no-ops.
func ContentHash(fields UpsertFields) string {
	parts := []string{
		strings.TrimSpace(fields.Text),
		strings.TrimSpace(fields.Title),
		strings.TrimSpace(fields.Category),
		strings.ToLower(strings.TrimSpace(fields.Status)),
		strings.ToLower(strings.TrimSpace(fields.LoadMode)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}
