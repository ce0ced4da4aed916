package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_KeyMapping(t *testing.T) {
	s := NewStore(nil, "bucket", "meta/backup/")
	assert.Equal(t, "meta/backup/registry/part-000.json.gz", s.key("registry/part-000.json.gz"))
	assert.Equal(t, "registry/part-000.json.gz", s.rel("meta/backup/registry/part-000.json.gz"))

	bare := NewStore(nil, "bucket", "")
	assert.Equal(t, "a/b", bare.rel("a/b"))
}

func TestDigestFrom_IgnoresCase(t *testing.T) {
	assert.Equal(t, "sha256:x", digestFrom(map[string]string{"Content-Digest": "sha256:x"}))
	assert.Empty(t, digestFrom(map[string]string{"Other": "y"}))
}

// TestStore_Integration runs against the server named by NEXUS_MINIO_ENDPOINT.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("NEXUS_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("NEXUS_MINIO_ENDPOINT not set")
	}
	bucket := "nexus-test"
	ctx := context.Background()

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "it/")

	require.NoError(t, store.Put(ctx, "registry/part-000.json.gz", []byte("hello minio"), blobstore.WithDigest("sha256:abc")))
	info, err := store.Stat(ctx, "registry/part-000.json.gz")
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", info.Digest)
	assert.Equal(t, int64(11), info.Size)

	b, err := store.Open(ctx, "registry/part-000.json.gz")
	require.NoError(t, err)
	rc, err := b.ReadRange(ctx, 6, 5)
	require.NoError(t, err)
	part, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(part))
	require.NoError(t, rc.Close())

	w, err := store.Create(ctx, "global-registry.json.gz")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "global-registry.json.gz")

	require.NoError(t, store.Delete(ctx, "registry/part-000.json.gz", "global-registry.json.gz"))
	_, err = store.Stat(ctx, "global-registry.json.gz")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
