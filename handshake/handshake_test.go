package handshake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedSecretAgrees(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	secretA, err := a.SharedSecret(b.Public)
	require.NoError(t, err)
	secretB, err := b.SharedSecret(a.Public)
	require.NoError(t, err)

	require.Equal(t, secretA, secretB)
	require.Len(t, secretA, 32)
}

func TestPublicValueSize(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	require.Len(t, kp.Public, PublicValueSize)
}
