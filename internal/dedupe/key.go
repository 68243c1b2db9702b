// Package dedupe derives identity keys and defines the field-level merge
// policy for records that collide on a key. The merge itself is executed as
// an atomic upsert-with-merge inside the structured store, never as a
// read-then-write in the pipeline process.
package dedupe

import (
	"crypto/md5"
	"fmt"
	"strings"
	"unicode"
)

// IdentityKey computes the deterministic deduplication key from normalized
// address, area and developer.
func IdentityKey(address, area, developer string) string {
	seed := normalizeComponent(address) + "|" + normalizeComponent(area) + "|" + normalizeComponent(developer)
	return generateMD5(seed)
}

// normalizeComponent lowercases, strips punctuation and collapses whitespace
// so cosmetic variations of the same address produce the same key.
func normalizeComponent(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '/':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// generateMD5 generates MD5 hash for a string
func generateMD5(text string) string {
	hash := md5.Sum([]byte(text))
	return fmt.Sprintf("%x", hash)
}
