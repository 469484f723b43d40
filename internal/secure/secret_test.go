package secure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithExposesPlaintext(t *testing.T) {
	buf := NewBuffer([]byte("s3cret-value"))
	defer buf.Destroy()

	var seen string
	err := buf.With(func(plaintext []byte) error {
		seen = string(plaintext)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret-value", seen)
}

func TestWithPropagatesError(t *testing.T) {
	buf := NewBufferFromString("value")
	defer buf.Destroy()

	sentinel := errors.New("apply failed")
	err := buf.With(func([]byte) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestDestroyIsIdempotent(t *testing.T) {
	buf := NewBuffer([]byte("gone"))
	buf.Destroy()
	buf.Destroy()
	assert.True(t, buf.Destroyed())

	err := buf.With(func(plaintext []byte) error {
		assert.Empty(t, plaintext)
		return nil
	})
	assert.NoError(t, err)
}

func TestWithReusableUntilDestroyed(t *testing.T) {
	buf := NewBufferFromString("twice")
	defer buf.Destroy()

	for i := 0; i < 2; i++ {
		var n int
		require.NoError(t, buf.With(func(p []byte) error {
			n = len(p)
			return nil
		}))
		assert.Equal(t, 5, n)
	}
}
