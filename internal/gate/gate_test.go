package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/internal/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_PutBytesSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()

	var results []Result
	g := New(remote, WithResultHook(func(r Result) { results = append(results, r) }))

	res, err := g.PutBytes(ctx, "registry/part-000.json.gz", []byte("v1"), "sha256:aaa")
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	res, err = g.PutBytes(ctx, "registry/part-000.json.gz", []byte("v1-recompressed"), "sha256:aaa")
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	res, err = g.PutBytes(ctx, "registry/part-000.json.gz", []byte("v2"), "sha256:bbb")
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	assert.Equal(t, int64(2), remote.Calls(blobstore.OpPut))
	assert.Equal(t, int64(3), remote.Calls(blobstore.OpStat))
	require.Len(t, results, 3)

	data, err := blobstore.ReadAll(ctx, remote, "registry/part-000.json.gz")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestGate_PutBytesComputesDigest(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	g := New(remote)

	res, err := g.PutBytes(ctx, "a", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, hash.Digest([]byte("x")), res.Digest)

	info, err := remote.Stat(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, res.Digest, info.Digest)
}

func TestGate_StatFailureStillWrites(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	remote.Fail(blobstore.OpStat, errors.New("throttled"))
	g := New(remote)

	res, err := g.PutBytes(ctx, "a", []byte("x"), "sha256:1")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(1), remote.Calls(blobstore.OpPut))
}

func TestGate_PutFailureIsReturned(t *testing.T) {
	remote := blobstore.NewMemoryStore()
	remote.Fail(blobstore.OpPut, errors.New("denied"))

	_, err := New(remote).PutBytes(context.Background(), "a", []byte("x"), "")
	assert.Error(t, err)
}

func TestGate_Mirror(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewLocalStore(t.TempDir())
	remote := blobstore.NewMemoryStore()
	g := New(remote)

	require.NoError(t, local.Put(ctx, "global-registry.json.gz", []byte("monolith"), blobstore.WithDigest("sha256:m1")))

	res, err := g.Mirror(ctx, local, "global-registry.json.gz", "meta/backup/global-registry.json.gz", "")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "sha256:m1", res.Digest)
	assert.Equal(t, int64(8), res.Bytes)

	res, err = g.Mirror(ctx, local, "global-registry.json.gz", "meta/backup/global-registry.json.gz", "")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, int64(1), remote.Calls(blobstore.OpCreate))
}

func TestGate_MirrorHashesSourceWithoutDigest(t *testing.T) {
	ctx := context.Background()
	src := blobstore.NewMemoryStore()
	dst := blobstore.NewMemoryStore()
	require.NoError(t, src.Put(ctx, "a", []byte("content")))

	res, err := New(dst).Mirror(ctx, src, "a", "b", "")
	require.NoError(t, err)
	assert.Equal(t, hash.Digest([]byte("content")), res.Digest)
}
