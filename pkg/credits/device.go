package credits

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeviceID derives a stable device identifier from a client-supplied
// fingerprint. Raw fingerprints are never persisted; only this one-way hash
// reaches the datastore.
func DeviceID(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:16])
}
