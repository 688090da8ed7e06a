package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashParts hashes the parts in order, separating them with a NUL byte so
// ("ab","c") and ("a","bc") differ.
func HashParts(parts ...[]byte) string {
	hash := sha256.New()
	for _, p := range parts {
		hash.Write(p)
		hash.Write([]byte{0})
	}
	return hex.EncodeToString(hash.Sum(nil))
}
