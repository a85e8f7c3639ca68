package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the length in bytes of X25519 keys and derived secrets.
const KeySize = 32

// ErrInvalidKey indicates key material that cannot be used (wrong length,
// bad hex encoding, or all zeros).
var ErrInvalidKey = errors.New("invalid key material")

// KeyPair represents an X25519 key pair used for the connection handshake.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var private [KeySize]byte
	if _, err := rand.Read(private[:]); err != nil {
		return nil, fmt.Errorf("failed to read entropy: %w", err)
	}

	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	keyPair := &KeyPair{Private: private}
	copy(keyPair.Public[:], public)
	return keyPair, nil
}

// FromPrivateKey reconstructs a key pair from an existing private key.
func FromPrivateKey(private [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(private) {
		return nil, fmt.Errorf("%w: all-zero private key", ErrInvalidKey)
	}

	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	keyPair := &KeyPair{Private: private}
	copy(keyPair.Public[:], public)
	return keyPair, nil
}

// PublicHex returns the public key as a lowercase hex string, the form
// carried in bundles and handshake messages.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// PrivateHex returns the private key as a lowercase hex string, the form
// persisted in crypto records. The private key never leaves the device.
func (kp *KeyPair) PrivateHex() string {
	return hex.EncodeToString(kp.Private[:])
}

// KeyFromHex decodes a hex-encoded key into its fixed-size form.
func KeyFromHex(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// KeyToHex encodes a fixed-size key as a lowercase hex string.
func KeyToHex(key [KeySize]byte) string {
	return hex.EncodeToString(key[:])
}

// ZeroBytes overwrites the given slice. Used to wipe intermediate key
// material before it goes out of scope.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
