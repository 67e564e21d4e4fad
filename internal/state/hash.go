package state

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainSnapshot separates snapshot hashes from any other SHA-256 use.
const DomainSnapshot = "scriptengine/state/v1"

// Hash returns the content hash of serialized snapshot data.
// Format: hex(SHA256(domain + 0x00 + data)).
func Hash(data []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainSnapshot))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
