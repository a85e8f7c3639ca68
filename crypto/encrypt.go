package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the length in bytes of the secretbox nonce prepended to
// every ciphertext.
const NonceSize = 24

// MaxMessageSize limits plaintext size (1MB) to prevent excessive memory
// usage. Large payloads travel out-of-band as encrypted blobs, never
// through the message envelope.
const MaxMessageSize = 1024 * 1024

var (
	// ErrDecryptionFailed indicates a ciphertext that failed
	// authentication. Decryption fails closed: tampered data is never
	// returned as plaintext.
	ErrDecryptionFailed = errors.New("decryption failed: ciphertext rejected")

	// ErrEmptyMessage indicates an attempt to encrypt nothing.
	ErrEmptyMessage = errors.New("empty message")

	// ErrMessageTooLarge indicates a plaintext above MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")
)

// Encrypt encrypts a message with the chat's shared secret using NaCl
// secretbox. A fresh random nonce is generated per call and prepended to
// the returned ciphertext.
func Encrypt(plaintext []byte, sharedSecret [KeySize]byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(plaintext) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := secretbox.Seal(nonce[:], plaintext, &nonce, (*[KeySize]byte)(&sharedSecret))
	return ciphertext, nil
}

// Decrypt authenticates and decrypts a ciphertext produced by Encrypt.
// Returns ErrDecryptionFailed if the ciphertext has been tampered with or
// was encrypted under a different secret.
func Decrypt(ciphertext []byte, sharedSecret [KeySize]byte) ([]byte, error) {
	if len(ciphertext) <= NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, (*[KeySize]byte)(&sharedSecret))
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString encrypts a string payload and returns base64, the form
// posted to the messaging endpoints.
func EncryptString(plaintext string, sharedSecret [KeySize]byte) (string, error) {
	ciphertext, err := Encrypt([]byte(plaintext), sharedSecret)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string, sharedSecret [KeySize]byte) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := Decrypt(ciphertext, sharedSecret)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GenerateNonceHex returns a random hex-encoded commitment value ("rad")
// used as the challenge in the direct-chat handshake.
func GenerateNonceHex() (string, error) {
	var raw [KeySize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return KeyToHex(raw), nil
}
