package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutStatOpen(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "registry/part-000.json.gz", []byte("shard"), WithDigest("sha256:abc")))

	info, err := s.Stat(ctx, "registry/part-000.json.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "sha256:abc", info.Digest)

	data, err := ReadAll(ctx, s, "registry/part-000.json.gz")
	require.NoError(t, err)
	assert.Equal(t, "shard", string(data))

	b, err := s.Open(ctx, "registry/part-000.json.gz")
	require.NoError(t, err)
	defer b.Close()

	rc, err := b.ReadRange(ctx, 1, 3)
	require.NoError(t, err)
	part, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "har", string(part))
}

func TestLocalStore_OverwriteWithoutDigestClearsSidecar(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "a", []byte("1"), WithDigest("sha256:one")))
	require.NoError(t, s.Put(ctx, "a", []byte("2")))

	info, err := s.Stat(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, info.Digest)
}

func TestLocalStore_ListHidesSidecarsAndTemps(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir)

	require.NoError(t, s.Put(ctx, "registry/part-001.json.gz", []byte("b"), WithDigest("sha256:b")))
	require.NoError(t, s.Put(ctx, "registry/part-000.json.gz", []byte("a"), WithDigest("sha256:a")))
	require.NoError(t, s.Put(ctx, "global-registry.json.gz", []byte("m")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry", ".x.tmp-123"), nil, 0o644))

	names, err := s.List(ctx, "registry/")
	require.NoError(t, err)
	assert.Equal(t, []string{"registry/part-000.json.gz", "registry/part-001.json.gz"}, names)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "absent"))
	names, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "a", []byte("1"), WithDigest("sha256:one")))
	require.NoError(t, s.Delete(ctx, "a", "missing"))

	_, err := s.Stat(ctx, "a")
	assert.True(t, IsNotFound(err))
	_, err = os.Stat(filepath.Join(s.Root(), "a"+metaSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_AbortLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	w, err := s.Create(ctx, "a")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	assert.ErrorIs(t, w.Close(), ErrAborted)

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_StageDefersPublish(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	w, err := s.Create(ctx, "staged")
	require.NoError(t, err)
	_, err = w.Write([]byte("body"))
	require.NoError(t, err)

	st, ok := w.(Stager)
	require.True(t, ok)
	require.NoError(t, st.Stage())

	_, err = s.Stat(ctx, "staged")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, w.Close())
	info, err := s.Stat(ctx, "staged")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)
}

func TestLocalStore_AbortAfterStage(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	w, err := s.Create(ctx, "staged")
	require.NoError(t, err)
	_, err = w.Write([]byte("body"))
	require.NoError(t, err)
	require.NoError(t, w.(Stager).Stage())
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_RejectsEscapingNames(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	err := s.Put(context.Background(), "../outside", []byte("x"))
	assert.Error(t, err)
}

func TestLocalStore_OpenMissing(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, err := s.Open(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}
