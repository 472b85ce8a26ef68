package store

import (
	"crypto/sha256"
	"fmt"
)

// HashInput computes the SHA-256 of a raw upload. Runs are keyed by it so a
// re-import of the same bytes can be recognized.
func HashInput(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}
