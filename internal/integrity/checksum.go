// Package integrity computes the content checksums recorded in backup
// manifests and checkpoints.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString is Hash over the UTF-8 bytes of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// Combine folds a set of checksums into one digest that does not depend on
// the order of the inputs. Duplicates are kept, so {a, a} and {a} differ.
func Combine(checksums []string) string {
	sorted := make([]string, len(checksums))
	copy(sorted, checksums)
	sort.Strings(sorted)
	return HashString(strings.Join(sorted, ""))
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
