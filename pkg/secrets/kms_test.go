package secrets

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKEKHex() string {
	return strings.Repeat("ab", 32)
}

func TestNewLocalKMSValidation(t *testing.T) {
	t.Run("rejects bad hex", func(t *testing.T) {
		_, err := NewLocalKMS("not-hex")
		assert.Error(t, err)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := NewLocalKMS("abcd")
		assert.ErrorContains(t, err, "32 bytes")
	})

	t.Run("accepts 32 bytes", func(t *testing.T) {
		kms, err := NewLocalKMS(testKEKHex())
		require.NoError(t, err)
		assert.NotNil(t, kms)
	})
}

func TestWrapUnwrapRoundtrip(t *testing.T) {
	kms, err := NewLocalKMS(testKEKHex())
	require.NoError(t, err)

	dek := []byte("0123456789abcdef0123456789abcdef")
	wrapped, kekID, err := kms.Wrap(dek)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(kekID, "local:"))
	assert.NotEqual(t, dek, wrapped)

	got, err := kms.Unwrap(wrapped, kekID)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestUnwrapRejectsUnknownKEK(t *testing.T) {
	kms, err := NewLocalKMS(testKEKHex())
	require.NoError(t, err)

	wrapped, _, err := kms.Wrap([]byte("k"))
	require.NoError(t, err)

	_, err = kms.Unwrap(wrapped, "local:deadbeef")
	assert.ErrorContains(t, err, "unknown KEK")
}

func TestUnwrapRejectsTamperedCiphertext(t *testing.T) {
	kms, err := NewLocalKMS(testKEKHex())
	require.NoError(t, err)

	wrapped, kekID, err := kms.Wrap([]byte("sensitive"))
	require.NoError(t, err)

	wrapped[len(wrapped)-1] ^= 0xff
	_, err = kms.Unwrap(wrapped, kekID)
	assert.Error(t, err)
}

func TestKEKIDStableAcrossInstances(t *testing.T) {
	a, err := NewLocalKMS(testKEKHex())
	require.NoError(t, err)
	b, err := NewLocalKMS(testKEKHex())
	require.NoError(t, err)

	_, idA, err := a.Wrap([]byte("x"))
	require.NoError(t, err)
	wrapped, idB, err := b.Wrap([]byte("y"))
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	// A key wrapped by one instance opens in another holding the same KEK.
	got, err := a.Unwrap(wrapped, idB)
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestKEKIDDiffersPerKey(t *testing.T) {
	a, err := NewLocalKMS(testKEKHex())
	require.NoError(t, err)
	b, err := NewLocalKMS(hex.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)

	_, idA, err := a.Wrap([]byte("x"))
	require.NoError(t, err)
	_, idB, err := b.Wrap([]byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}
