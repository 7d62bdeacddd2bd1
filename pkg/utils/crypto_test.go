package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	ciphertext, err := Encrypt([]byte("long-lived-token"), key)
	require.NoError(t, err)
	assert.NotEqual(t, "long-lived-token", ciphertext)

	plaintext, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, "long-lived-token", plaintext)
}

func TestDecryptWrongKey(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	otherKey := []byte("fedcba9876543210fedcba9876543210")

	ciphertext, err := Encrypt([]byte("long-lived-token"), key)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, otherKey)
	assert.Error(t, err)
}

func TestDecryptGarbage(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	_, err := Decrypt("AAAA", key)
	assert.Error(t, err)
}
