package nexus

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/config"
	"github.com/hupe1980/nexus/internal/accumulator"
	"github.com/hupe1980/nexus/model"
	"github.com/hupe1980/nexus/packer"
	"github.com/hupe1980/nexus/registry"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.RegistryFloor = 0
	cfg.ShardSize = 2
	cfg.Decay = 0.5
	return cfg
}

func open(t *testing.T, cfg config.Config, opts ...Option) *Nexus {
	t.Helper()
	base := []Option{WithClock(func() time.Time { return testNow })}
	n, err := Open(context.Background(), cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func baseline() []*model.Entity {
	out := make([]*model.Entity, 5)
	for i := range out {
		out[i] = &model.Entity{
			ID:    fmt.Sprintf("hf-model--org--m%d", i),
			Type:  model.KindModel,
			Name:  fmt.Sprintf("m%d", i),
			Score: float64(10 * (i + 1)),
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

func byID(es []*model.Entity) map[string]*model.Entity {
	out := make(map[string]*model.Entity, len(es))
	for _, e := range es {
		out[e.ID] = e
	}
	return out
}

func TestAggregate_Bootstrap(t *testing.T) {
	ctx := context.Background()
	n := open(t, testConfig(t))

	res, err := n.Aggregate(ctx, SliceSource(
		&model.Entity{ID: "hf-model--org--a", Name: "a", Score: 1},
		&model.Entity{ID: "hf-model--org--b", Name: "b", Score: 3},
		&model.Entity{ID: "hf-model--org--c", Name: "c", Score: 2},
	))
	require.NoError(t, err)
	assert.Zero(t, res.Baseline)
	assert.Equal(t, int64(3), res.Inserts)
	assert.Equal(t, 3, res.Inserted)
	assert.Zero(t, res.Decayed)
	assert.Equal(t, 3, res.Save.Count)
	assert.Equal(t, 2, res.Save.ShardCount)

	got, err := n.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hf-model--org--b", "hf-model--org--c", "hf-model--org--a"}, ids(got.Entities))
	for _, e := range got.Entities {
		assert.Equal(t, model.StatusActive, e.Status)
		assert.True(t, testNow.Equal(e.LastSeen), e.LastSeen)
	}
}

func TestAggregate_MergesIntoBaseline(t *testing.T) {
	ctx := context.Background()
	n := open(t, testConfig(t))
	_, err := n.Registry().Save(ctx, baseline())
	require.NoError(t, err)

	obs := &BasicMetricsObserver{}
	n.opts.metrics = obs

	res, err := n.Aggregate(ctx, SliceSource(
		&model.Entity{ID: "hf-model--org--m0", Name: "renamed", Score: 1},
		&model.Entity{ID: "hf-model--org--m2", Score: 100},
	), SliceSource(
		&model.Entity{ID: "hf-model--org--new", Name: "new", Score: 5},
		&model.Entity{ID: "", Name: "no id"},
	))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Baseline)
	assert.Equal(t, int64(2), res.Routed)
	assert.Equal(t, int64(1), res.Inserts)
	assert.Equal(t, int64(1), res.Invalid)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 3, res.Decayed)
	assert.Equal(t, 6, res.Save.Count)

	got, err := n.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"hf-model--org--m2",
		"hf-model--org--m4",
		"hf-model--org--m3",
		"hf-model--org--m0",
		"hf-model--org--m1",
		"hf-model--org--new",
	}, ids(got.Entities))

	m := byID(got.Entities)
	assert.Equal(t, "renamed", m["hf-model--org--m0"].Name)
	assert.Equal(t, 10.0, m["hf-model--org--m0"].Score)
	assert.Equal(t, model.StatusActive, m["hf-model--org--m0"].Status)
	assert.Equal(t, 100.0, m["hf-model--org--m2"].Score)
	assert.Equal(t, 25.0, m["hf-model--org--m4"].Score)
	assert.Equal(t, model.StatusArchived, m["hf-model--org--m4"].Status)

	stats := obs.GetStats()
	assert.Equal(t, int64(1), stats.Upserts)
	assert.Equal(t, int64(3), stats.Decayed)
	assert.Equal(t, int64(1), stats.Saves)
	assert.Equal(t, int64(2), stats.Loads)

	_, err = os.Stat(filepath.Join(n.workDir(), "accum"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(n.workDir(), "delta"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAggregate_BelowFloorAborts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.RegistryFloor = 10
	n := open(t, cfg)

	_, err := n.Registry().Save(ctx, baseline())
	require.NoError(t, err)
	before, err := n.Registry().ReadManifest(ctx)
	require.NoError(t, err)
	mono, err := os.ReadFile(filepath.Join(cfg.DataDir, registry.MonolithName))
	require.NoError(t, err)

	_, err = n.Aggregate(ctx, SliceSource(&model.Entity{ID: "hf-model--org--m0", Name: "changed"}))
	require.ErrorIs(t, err, ErrAborted)
	var fe *registry.FloorError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 5, fe.Count)
	assert.Equal(t, 10, fe.Floor)

	after, err := n.Registry().ReadManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	monoAfter, err := os.ReadFile(filepath.Join(cfg.DataDir, registry.MonolithName))
	require.NoError(t, err)
	assert.Equal(t, mono, monoAfter)

	_, err = n.Load(ctx)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestAggregate_Busy(t *testing.T) {
	n := open(t, testConfig(t))

	held, err := accumulator.Open(filepath.Join(n.workDir(), "accum"))
	require.NoError(t, err)
	defer held.Close()

	_, err = n.Aggregate(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestAggregate_Closed(t *testing.T) {
	n := open(t, testConfig(t))
	require.NoError(t, n.Close())

	_, err := n.Aggregate(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAggregate_UnchangedPassSkipsRemote(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Decay = 1
	remote := blobstore.NewMemoryStore()
	obs := &BasicMetricsObserver{}
	n := open(t, cfg, WithRemoteStore(remote), WithMetricsObserver(obs))

	first, err := n.Aggregate(ctx, SliceSource(baseline()...))
	require.NoError(t, err)
	assert.Positive(t, first.Save.Written)

	// Rows turn archived on the first pass without updates.
	_, err = n.Aggregate(ctx)
	require.NoError(t, err)

	writes := obs.GetStats().RemoteWrites
	third, err := n.Aggregate(ctx)
	require.NoError(t, err)
	assert.Zero(t, third.Save.Written)
	assert.Equal(t, third.Save.ShardCount+2, third.Save.Skipped)
	assert.Equal(t, writes, obs.GetStats().RemoteWrites)

	names, err := remote.List(ctx, registry.ShardPrefix)
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

func TestPackAndPublish(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Bundle.Threshold = 16
	remote := blobstore.NewMemoryStore()
	n := open(t, cfg, WithRemoteStore(remote))

	in := baseline()
	in[0].Content = "a long enough body to leave the index row"
	_, err := n.Registry().Save(ctx, in)
	require.NoError(t, err)

	dir := t.TempDir()
	m, err := n.Pack(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Entities)
	assert.Equal(t, 1, m.Bundles)
	require.NoError(t, n.Verify(ctx, dir))

	r, err := OpenArtifact(ctx, dir)
	require.NoError(t, err)
	defer r.Close()
	b, err := r.Bundle(ctx, "hf-model--org--m0")
	require.NoError(t, err)
	assert.Equal(t, in[0].Content, b.Content)
	_, err = r.Lookup(ctx, "hf-model--org--none")
	assert.ErrorIs(t, err, packer.ErrNotFound)

	pub, err := n.Publish(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, len(m.Shards)+2, pub.Written)
	_, err = remote.Stat(ctx, ArtifactPrefix+"/"+packer.ManifestName)
	require.NoError(t, err)
}

func TestPack_BelowFloorAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistryFloor = 1
	n := open(t, cfg)

	_, err := n.Pack(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrAborted)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()

	ndjson := filepath.Join(dir, "updates.ndjson")
	require.NoError(t, os.WriteFile(ndjson, []byte(
		`{"id":"hf-model--org--a","name":"a"}`+"\n\nnot json\n"+`{"id":"hf-model--org--b"}`+"\n"), 0o644))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"entities":[{"id":"gh-tool--org--c"},{"id":"gh-tool--org--d","name":"d"}]}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	gz := filepath.Join(dir, "updates.json.gz")
	require.NoError(t, os.WriteFile(gz, buf.Bytes(), 0o644))

	var got []string
	for _, path := range []string{ndjson, gz} {
		for e, err := range FileSource(path) {
			require.NoError(t, err)
			got = append(got, e.ID)
		}
	}
	assert.Equal(t, []string{"hf-model--org--a", "hf-model--org--b", "gh-tool--org--c", "gh-tool--org--d"}, got)

	for _, err := range FileSource(filepath.Join(dir, "missing.json")) {
		assert.ErrorIs(t, err, os.ErrNotExist)
	}
}

func TestFileSource_EarlyStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updates.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"hf-model--a--1"},{"id":"hf-model--a--2"},{"id":"hf-model--a--3"}]`), 0o644))

	var got []string
	for e, err := range FileSource(path) {
		require.NoError(t, err)
		got = append(got, e.ID)
		if len(got) == 2 {
			break
		}
	}
	assert.Len(t, got, 2)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShardSize = 0
	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpen_LocalRemoteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Enabled = true
	cfg.Remote.Backend = config.BackendLocal
	cfg.Remote.Endpoint = t.TempDir()
	n := open(t, cfg)
	require.NotNil(t, n.Remote())

	_, err := n.Aggregate(context.Background(), SliceSource(baseline()...))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.Remote.Endpoint, "meta", "backup", registry.MonolithName))
	assert.NoError(t, err)
}
