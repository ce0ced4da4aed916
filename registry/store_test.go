package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entities(n int) []*model.Entity {
	out := make([]*model.Entity, n)
	for i := range out {
		out[i] = &model.Entity{
			ID:      fmt.Sprintf("hf-model--org--m%03d", i),
			Type:    model.KindModel,
			Name:    fmt.Sprintf("m%03d", i),
			Score:   float64(n - i),
			Content: "long body text for " + fmt.Sprint(i),
		}
	}
	return out
}

func ids(es []*model.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func tickingClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Hour)
		return t
	}
}

func newTestStore(t *testing.T, remote blobstore.BlobStore, opts ...Option) (*Store, *blobstore.LocalStore) {
	t.Helper()
	local := blobstore.NewLocalStore(t.TempDir())
	base := []Option{WithShardSize(3), WithFloor(5), WithClock(tickingClock())}
	return New(local, remote, append(base, opts...)...), local
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, local := newTestStore(t, nil)
	in := entities(7)

	res, err := s.Save(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Count)
	assert.Equal(t, 3, res.ShardCount)
	assert.Len(t, res.Digests, 4)

	names, err := local.List(ctx, ShardPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"registry/part-000.json.gz", "registry/part-001.json.gz", "registry/part-002.json.gz"}, names)

	got, err := s.LoadTrusted(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocalMonolith, got.Source)
	assert.ElementsMatch(t, ids(in), ids(got.Entities))
	assert.Equal(t, in[2], got.Entities[2])
}

func TestStore_RemoteWriteSkippedWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()

	var hooks []bool
	s, _ := newTestStore(t, remote, WithRemoteWriteHook(func(_ string, skipped bool) {
		hooks = append(hooks, skipped)
	}))
	in := entities(7)

	first, err := s.Save(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Written)
	assert.Equal(t, int64(4), remote.Calls(blobstore.OpCreate))
	assert.Equal(t, int64(1), remote.Calls(blobstore.OpPut))

	remote.ResetCalls()
	second, err := s.Save(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Written)
	assert.Equal(t, 5, second.Skipped)
	assert.Zero(t, remote.Calls(blobstore.OpCreate))
	assert.Zero(t, remote.Calls(blobstore.OpPut))
	assert.Equal(t, first.Digests, second.Digests)
	assert.Len(t, hooks, 10)

	in[0].Name = "changed"
	remote.ResetCalls()
	third, err := s.Save(ctx, in)
	require.NoError(t, err)
	// Shard 0, the monolith and the manifest changed.
	assert.Equal(t, 3, third.Written)
	assert.Equal(t, int64(2), remote.Calls(blobstore.OpCreate))
}

func TestStore_PurgesStaleShards(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	s, local := newTestStore(t, remote)

	_, err := s.Save(ctx, entities(9))
	require.NoError(t, err)
	require.NoError(t, local.Put(ctx, "registry/part-000.json", []byte(`[]`)))

	res, err := s.Save(ctx, entities(4))
	require.NoError(t, err)
	assert.Equal(t, 2, res.ShardCount)
	assert.Equal(t, 1, res.Purged)

	remoteShards, err := remote.List(ctx, ShardPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"registry/part-000.json.gz", "registry/part-001.json.gz"}, remoteShards)

	localShards, err := local.List(ctx, ShardPrefix)
	require.NoError(t, err)
	assert.Equal(t, remoteShards, localShards)
}

func TestStore_PurgeFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	s, _ := newTestStore(t, remote)

	_, err := s.Save(ctx, entities(9))
	require.NoError(t, err)

	remote.Fail(blobstore.OpDelete, errors.New("forbidden"))
	res, err := s.Save(ctx, entities(4))
	require.NoError(t, err)
	assert.Zero(t, res.Purged)
}

func TestStore_RemoteFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	remote.Fail(blobstore.OpCreate, errors.New("network down"))
	s, _ := newTestStore(t, remote)

	res, err := s.Save(ctx, entities(7))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Failed)
	assert.Zero(t, remote.Calls(blobstore.OpPut))

	got, err := s.LoadTrusted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Count)
}

func TestStore_LoadOrder(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	s, local := newTestStore(t, remote)

	_, err := s.Save(ctx, entities(7))
	require.NoError(t, err)

	require.NoError(t, local.Delete(ctx, MonolithName))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocalShards, got.Source)
	assert.Equal(t, 7, got.Count)

	names, err := local.List(ctx, "")
	require.NoError(t, err)
	require.NoError(t, local.Delete(ctx, names...))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemoteMonolith, got.Source)

	require.NoError(t, remote.Delete(ctx, MonolithName))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemoteShards, got.Source)
	assert.Equal(t, 7, got.Count)
}

func TestStore_ForceRemoteRestore(t *testing.T) {
	ctx := context.Background()
	remote := blobstore.NewMemoryStore()
	local := blobstore.NewLocalStore(t.TempDir())

	writer := New(local, remote, WithShardSize(3), WithFloor(5))
	_, err := writer.Save(ctx, entities(7))
	require.NoError(t, err)

	reader := New(local, remote, WithShardSize(3), WithFloor(5), WithForceRemoteRestore(true))
	got, err := reader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemoteMonolith, got.Source)
}

func TestStore_BelowFloorIsUntrusted(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)

	_, err := s.Save(ctx, entities(3))
	require.NoError(t, err)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, got.Trusted)
	assert.Empty(t, got.Entities)
	assert.Equal(t, 3, got.Count)

	_, err = s.LoadTrusted(ctx)
	require.ErrorIs(t, err, ErrUntrusted)
	var fe *FloorError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Count)
	assert.Equal(t, 5, fe.Floor)
}

func TestStore_EmptyWithZeroFloor(t *testing.T) {
	s, _ := newTestStore(t, nil, WithFloor(0))

	got, err := s.LoadTrusted(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Trusted)
	assert.Zero(t, got.Count)
}

func TestStore_Scan(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	_, err := s.Save(ctx, entities(7))
	require.NoError(t, err)

	var shards []*model.Shard
	require.NoError(t, s.Scan(ctx, func(sh *model.Shard) error {
		shards = append(shards, sh)
		return nil
	}))

	require.Len(t, shards, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{shards[0].Index, shards[1].Index, shards[2].Index})
	assert.Equal(t, []int{3, 3, 1}, []int{shards[0].Count, shards[1].Count, shards[2].Count})
	assert.Equal(t, 7, shards[0].Total)
	assert.Equal(t, "hf-model--org--m003", shards[1].Entities[0].ID)
}

func TestStore_ScanBelowFloor(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	_, err := s.Save(ctx, entities(2))
	require.NoError(t, err)

	calls := 0
	err = s.Scan(ctx, func(*model.Shard) error {
		calls++
		return nil
	})
	var fe *FloorError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.Count)
	assert.Equal(t, 1, calls)
}

func TestStore_ScanMonolithOnly(t *testing.T) {
	ctx := context.Background()
	s, local := newTestStore(t, nil)
	_, err := s.Save(ctx, entities(7))
	require.NoError(t, err)

	names, err := local.List(ctx, ShardPrefix)
	require.NoError(t, err)
	require.NoError(t, local.Delete(ctx, names...))

	var counts []int
	require.NoError(t, s.Scan(ctx, func(sh *model.Shard) error {
		counts = append(counts, sh.Count)
		return nil
	}))
	assert.Equal(t, []int{3, 3, 1}, counts)
}

func TestStore_ScanLegacyShards(t *testing.T) {
	ctx := context.Background()
	s, local := newTestStore(t, nil, WithFloor(0))
	require.NoError(t, local.Put(ctx, "registry/part-000.json", []byte(`[{"id":"a"},{"id":"b"}]`)))
	require.NoError(t, local.Put(ctx, "registry/part-001.json", []byte(`{"entities":[{"id":"c"}]}`)))

	var got []string
	require.NoError(t, s.Scan(ctx, func(sh *model.Shard) error {
		got = append(got, ids(sh.Entities)...)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestStore_Slim(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewLocalStore(t.TempDir())
	_, err := New(local, nil, WithShardSize(3), WithFloor(1)).Save(ctx, entities(4))
	require.NoError(t, err)

	got, err := New(local, nil, WithFloor(1), WithSlim(true)).LoadTrusted(ctx)
	require.NoError(t, err)
	require.Len(t, got.Entities, 4)
	assert.Empty(t, got.Entities[0].Content)
	assert.Equal(t, "long body text for 0", got.Entities[0].Description)
}

func TestWriter_AbortKeepsPreviousSave(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	_, err := s.Save(ctx, entities(6))
	require.NoError(t, err)

	w, err := s.NewWriter(ctx)
	require.NoError(t, err)
	for _, e := range entities(4) {
		require.NoError(t, w.Write(e))
	}
	require.NoError(t, w.Abort())
	assert.ErrorIs(t, w.Write(entities(1)[0]), ErrClosed)

	got, err := s.LoadTrusted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Count)
}

// stageFailStore fails staging of one file.
type stageFailStore struct {
	*blobstore.LocalStore
	name string
}

func (s stageFailStore) Create(ctx context.Context, name string, opts ...blobstore.PutOption) (blobstore.WritableBlob, error) {
	w, err := s.LocalStore.Create(ctx, name, opts...)
	if err != nil || name != s.name {
		return w, err
	}
	return failingStage{WritableBlob: w}, nil
}

type failingStage struct {
	blobstore.WritableBlob
}

func (failingStage) Stage() error { return errors.New("disk full") }

func TestWriter_StageFailureKeepsPreviousSave(t *testing.T) {
	ctx := context.Background()
	local := blobstore.NewLocalStore(t.TempDir())
	opts := []Option{WithShardSize(3), WithFloor(5), WithClock(tickingClock())}

	first := New(local, nil, opts...)
	_, err := first.Save(ctx, entities(7))
	require.NoError(t, err)
	before, err := first.ReadManifest(ctx)
	require.NoError(t, err)

	renamed := entities(7)
	for _, e := range renamed {
		e.Name = "renamed"
	}
	s := New(stageFailStore{LocalStore: local, name: MonolithName}, nil, opts...)
	_, err = s.Save(ctx, renamed)
	require.ErrorContains(t, err, "disk full")

	after, err := s.ReadManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, s.Scan(ctx, func(sh *model.Shard) error {
		for _, e := range sh.Entities {
			assert.NotEqual(t, "renamed", e.Name, e.ID)
		}
		return nil
	}))
}

func TestWriter_ClampsScores(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil, WithFloor(1))
	e := &model.Entity{ID: "x", Score: -3}

	_, err := s.Save(ctx, []*model.Entity{e})
	require.NoError(t, err)
	assert.Equal(t, -3.0, e.Score)

	got, err := s.LoadTrusted(ctx)
	require.NoError(t, err)
	assert.Zero(t, got.Entities[0].Score)
}

func TestStore_ReadManifest(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	res, err := s.Save(ctx, entities(5))
	require.NoError(t, err)

	m, err := s.ReadManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Digests, m.Digests)
	assert.Equal(t, 2, m.ShardCount)
	assert.Equal(t, 3, m.ShardSize)
}

func TestParseShardName(t *testing.T) {
	i, gz, ok := ParseShardName("registry/part-012.json.gz")
	assert.True(t, ok)
	assert.True(t, gz)
	assert.Equal(t, 12, i)

	_, gz, ok = ParseShardName("registry/part-001.json")
	assert.True(t, ok)
	assert.False(t, gz)

	_, _, ok = ParseShardName("registry/manifest.json")
	assert.False(t, ok)
	assert.Equal(t, "registry/part-007.json.gz", ShardName(7))
}
