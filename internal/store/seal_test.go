// ABOUTME: Tests for credential sealing
// ABOUTME: Verifies round trips, tenant binding and tamper detection

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSealer_EmptyKey(t *testing.T) {
	_, err := NewSealer("")
	assert.Error(t, err)
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := NewSealer("k")
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("payload"), []byte("acme"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("payload"), sealed)

	opened, err := sealer.Open(sealed, []byte("acme"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)
}

func TestSealer_NoncesDiffer(t *testing.T) {
	sealer, err := NewSealer("k")
	require.NoError(t, err)

	a, err := sealer.Seal([]byte("payload"), nil)
	require.NoError(t, err)
	b, err := sealer.Seal([]byte("payload"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealer_WrongTenant(t *testing.T) {
	sealer, err := NewSealer("k")
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("payload"), []byte("acme"))
	require.NoError(t, err)

	_, err = sealer.Open(sealed, []byte("globex"))
	assert.ErrorIs(t, err, ErrSealedDataCorrupt)
}

func TestSealer_WrongKey(t *testing.T) {
	a, err := NewSealer("key-a")
	require.NoError(t, err)
	b, err := NewSealer("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("payload"), nil)
	require.NoError(t, err)

	_, err = b.Open(sealed, nil)
	assert.ErrorIs(t, err, ErrSealedDataCorrupt)
}

func TestSealer_Truncated(t *testing.T) {
	sealer, err := NewSealer("k")
	require.NoError(t, err)

	_, err = sealer.Open([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrSealedDataCorrupt)
}
