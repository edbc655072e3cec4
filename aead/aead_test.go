package aead

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	a := New()
	key := make([]byte, 32)
	pt := []byte("hello, quince")

	ct, err := a.Encrypt(pt, key, 7)
	require.NoError(t, err)
	require.Len(t, ct, len(pt)+TagSize)

	got, err := a.Decrypt(ct, key, 7)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestDecryptFailsWithWrongNonce(t *testing.T) {
	a := New()
	key := make([]byte, 32)
	ct, err := a.Encrypt([]byte("data"), key, 1)
	require.NoError(t, err)

	_, err = a.Decrypt(ct, key, 2)
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	a := New()
	key := make([]byte, 32)
	otherKey := make([]byte, 32)
	otherKey[0] = 1
	ct, err := a.Encrypt([]byte("data"), key, 1)
	require.NoError(t, err)

	_, err = a.Decrypt(ct, otherKey, 1)
	require.Error(t, err)
}
