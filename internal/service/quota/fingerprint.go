package quota

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives a stable, non-reversible identifier for a credential so
// that key material never reaches logs or shared stores.
func Fingerprint(provider, key string) string {
	if key == "" {
		return "anonymous"
	}
	sum := blake2b.Sum256([]byte(provider + "\x00" + key))
	return hex.EncodeToString(sum[:16])
}

func entryKey(provider, fingerprint string) string {
	return "quota:" + provider + ":" + fingerprint
}
