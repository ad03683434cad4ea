package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key derives a deterministic cache key for op from the semantic inputs of a
// call. Parts are whitespace-collapsed and lower-cased before hashing, so
// cosmetic differences in a question collide while any change in wording,
// provider or model does not. Never pass credentials.
func Key(op string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(normalize(p)))
		h.Write([]byte{0x1f})
	}
	return "resp:" + op + ":" + hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
