package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewStore(t *testing.T) {
	store := NewPreviewStore()

	img := testImage("chair.jpg", 1, 64)
	p := store.Acquire(img)
	require.NotEmpty(t, p.ID)
	assert.Equal(t, Digest(img.Data), p.Digest)
	assert.Len(t, p.Digest, 64)
	assert.Equal(t, "image/jpeg", p.MIMEType)

	got, ok := store.Get(p.ID)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 1, store.Len())

	store.Release(p.ID)
	_, ok = store.Get(p.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())

	// Releasing twice is harmless
	store.Release(p.ID)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest([]byte("abc")), Digest([]byte("abc")))
	assert.NotEqual(t, Digest([]byte("abc")), Digest([]byte("abd")))
}
