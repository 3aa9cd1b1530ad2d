// Package sanitize normalizes untrusted identifiers and validates paths.
//
// Task IDs and artifact slugs come from LLM output and must be safe to embed
// in filenames and state keys: ^[a-z0-9_]{1,64}$. File-change paths come from
// the same source and must stay inside the project root.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength bounds slug length so identifiers stay usable in
	// filenames and log fields.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated
	// identifiers. Format: _<8-char-hash> = 9 characters total.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "task"
)

// Identifier sanitizes a string for use as a task ID or artifact slug.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"Implement the parser" -> "implement_the_parser"
//	"Fix #42!"             -> "fix_42"
//	"" or "!!!"            -> "task"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates a string to fit within MaxIdentifierLength,
// appending a hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
// Example: "very_long_identifier..." -> "very_long_iden_a1b2c3d4"
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	maxBase := MaxIdentifierLength - HashSuffixLength
	truncated := s[:maxBase]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}
