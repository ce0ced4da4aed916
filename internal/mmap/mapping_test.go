package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shard-000.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestMapping_ReadAndSlice(t *testing.T) {
	m, err := Open(writeFile(t, []byte("header:bundle-bytes")))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 19, m.Size())
	require.NoError(t, m.Advise(AccessRandom))

	b, err := m.Slice(7, 12)
	require.NoError(t, err)
	assert.Equal(t, "bundle-bytes", string(b))

	_, err = m.Slice(10, 100)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestMapping_EmptyFile(t *testing.T) {
	m, err := Open(writeFile(t, nil))
	require.NoError(t, err)
	assert.Zero(t, m.Size())
	assert.Nil(t, m.Bytes())
	require.NoError(t, m.Close())
}

func TestMapping_CloseIsIdempotent(t *testing.T) {
	m, err := Open(writeFile(t, []byte("x")))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Nil(t, m.Bytes())
	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSet_MapsOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bundles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundles", "shard-000.bin"), []byte("abc"), 0o644))

	s := NewSet(dir, AccessRandom)
	a, err := s.Get("bundles/shard-000.bin")
	require.NoError(t, err)
	b, err := s.Get("bundles/shard-000.bin")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Len())

	_, err = s.Get("bundles/shard-001.bin")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Get("bundles/shard-000.bin")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = a.Slice(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
