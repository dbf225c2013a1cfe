package library

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentKey derives the cache key of an origin: the hex SHA-256 of its UTF-8
// bytes. The same origin always yields the same key, across restarts.
func ContentKey(origin string) string {
	sum := sha256.Sum256([]byte(origin))
	return hex.EncodeToString(sum[:])
}
