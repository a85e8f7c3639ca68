package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes the SHA-256 digest of the given bytes. Used to commit to
// a public key or nonce before it is disclosed during the handshake.
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashHex computes the SHA-256 digest of a string and returns it as a
// lowercase hex string, the form stored in crypto records and compared
// against the commitment carried in a connection bundle.
func HashHex(data string) string {
	digest := Hash([]byte(data))
	return hex.EncodeToString(digest[:])
}
