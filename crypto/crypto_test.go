package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.False(t, isZeroKey(keyPair.Public), "public key should not be all zeros")
	assert.False(t, isZeroKey(keyPair.Private), "private key should not be all zeros")

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, keyPair.Private, other.Private, "two generated key pairs should differ")
}

func TestFromPrivateKey(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	rebuilt, err := FromPrivateKey(keyPair.Private)
	require.NoError(t, err)
	assert.Equal(t, keyPair.Public, rebuilt.Public, "derived public key should match original")

	_, err = FromPrivateKey([KeySize]byte{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyHexRoundTrip(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	decoded, err := KeyFromHex(keyPair.PublicHex())
	require.NoError(t, err)
	assert.Equal(t, keyPair.Public, decoded)

	tests := []struct {
		name  string
		input string
	}{
		{"bad hex", "zzzz"},
		{"too short", "abcd"},
		{"too long", strings.Repeat("ab", KeySize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KeyFromHex(tt.input)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

// Shared secret derivation must be commutative: both sides of the
// handshake arrive at the same symmetric key.
func TestDeriveSharedSecretCommutative(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	aliceSecret, err := DeriveSharedSecret(alice.Private, bob.Public)
	require.NoError(t, err)
	bobSecret, err := DeriveSharedSecret(bob.Private, alice.Public)
	require.NoError(t, err)

	assert.Equal(t, aliceSecret, bobSecret, "both parties should derive the same secret")
}

func TestDeriveSharedSecretRejectsZeroPeerKey(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = DeriveSharedSecret(keyPair.Private, [KeySize]byte{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	var secret [KeySize]byte
	copy(secret[:], []byte("0123456789abcdef0123456789abcdef"))

	plaintext := []byte("hello over the wire")
	ciphertext, err := Encrypt(plaintext, secret)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), string(plaintext))

	decrypted, err := Decrypt(ciphertext, secret)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptFailsClosed(t *testing.T) {
	var secret [KeySize]byte
	copy(secret[:], []byte("0123456789abcdef0123456789abcdef"))

	ciphertext, err := Encrypt([]byte("payload"), secret)
	require.NoError(t, err)

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[len(tampered)-1] ^= 0xff
		_, err := Decrypt(tampered, secret)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		var wrong [KeySize]byte
		wrong[0] = 1
		_, err := Decrypt(ciphertext, wrong)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		_, err := Decrypt(ciphertext[:NonceSize], secret)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestEncryptValidatesInput(t *testing.T) {
	var secret [KeySize]byte
	secret[0] = 1

	_, err := Encrypt(nil, secret)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = Encrypt(make([]byte, MaxMessageSize+1), secret)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestEncryptStringRoundTrip(t *testing.T) {
	var secret [KeySize]byte
	secret[5] = 7

	encoded, err := EncryptString(`{"contentType":"text"}`, secret)
	require.NoError(t, err)

	decoded, err := DecryptString(encoded, secret)
	require.NoError(t, err)
	assert.Equal(t, `{"contentType":"text"}`, decoded)

	_, err = DecryptString("not base64!!", secret)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestHashHexCommitment(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	commitment := HashHex(keyPair.PublicHex())
	assert.Len(t, commitment, 64)
	assert.Equal(t, commitment, HashHex(keyPair.PublicHex()), "hash should be deterministic")

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, commitment, HashHex(other.PublicHex()))
}

func TestGenerateNonceHex(t *testing.T) {
	a, err := GenerateNonceHex()
	require.NoError(t, err)
	b, err := GenerateNonceHex()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
