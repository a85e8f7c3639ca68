// Package crypto implements the cryptographic primitives used by quietlink.
//
// This package handles X25519 key generation, ECDH shared secret
// derivation, SHA-256 commitments, and authenticated symmetric encryption
// using the NaCl secretbox construction through Go's x/crypto packages.
// The package holds no state of its own; key material is owned by the
// storage layer and passed in per call.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", keys.PublicHex())
package crypto
