package blobstore

import (
	"context"
	"testing"

	"github.com/hupe1980/nexus/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernedStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	rc := resource.NewController(resource.Config{MaxInFlight: 1, BytesPerSec: 1 << 20})
	s := NewGovernedStore(inner, rc)

	require.NoError(t, s.Put(ctx, "a", []byte("one"), WithDigest("sha256:1")))

	w, err := s.Create(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rc.Active())
	_, err = w.Write([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Zero(t, rc.Active())

	info, err := s.Stat(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "sha256:1", info.Digest)

	got, err := ReadAll(ctx, s, "b")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.Equal(t, []string{"b"}, inner.Names())
	assert.Same(t, inner, s.Unwrap())
}
