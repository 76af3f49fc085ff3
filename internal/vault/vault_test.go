package vault

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := New(key)
	require.NoError(t, err)

	secret := []byte("correct horse battery staple 0123")
	sealed, err := s.Seal(secret, "escrow-1")
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, secret))

	opened, err := s.Open(sealed, "escrow-1")
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	again, err := s.Seal(secret, "escrow-1")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces must differ")
}

func TestOpenRejectsWrongLabelOrTamper(t *testing.T) {
	key, _ := GenerateKey()
	s, err := New(key)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("secret"), "escrow-1")
	require.NoError(t, err)

	_, err = s.Open(sealed, "escrow-2")
	assert.ErrorIs(t, err, ErrOpen)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed, "escrow-1")
	assert.ErrorIs(t, err, ErrOpen)

	_, err = s.Open([]byte{1, 2, 3}, "escrow-1")
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNewFromHex(t *testing.T) {
	s, ephemeral, err := NewFromHex("")
	require.NoError(t, err)
	assert.True(t, ephemeral)
	assert.NotNil(t, s)

	key, _ := GenerateKey()
	s, ephemeral, err = NewFromHex(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.False(t, ephemeral)
	assert.NotNil(t, s)

	_, _, err = NewFromHex("abcd")
	assert.Error(t, err)

	_, _, err = NewFromHex("zz")
	assert.Error(t, err)
}
