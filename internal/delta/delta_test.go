package delta

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner []*model.Shard

func (f fakeScanner) Scan(_ context.Context, fn func(*model.Shard) error) error {
	for _, s := range f {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func baseline() fakeScanner {
	return fakeScanner{
		{Index: 0, Entities: []*model.Entity{{ID: "hf-model--org--a"}, {ID: "hf-model--org--b"}}},
		{Index: 1, Entities: []*model.Entity{{ID: "gh-tool--org--c"}}},
	}
}

func TestBuildIndex(t *testing.T) {
	ix, err := BuildIndex(context.Background(), baseline())
	require.NoError(t, err)

	assert.Len(t, ix, 3)
	s, ok := ix.Lookup("gh-tool--org--c")
	assert.True(t, ok)
	assert.Equal(t, 1, s)
}

func TestBuildIndex_FirstShardWins(t *testing.T) {
	ix := make(Index)
	ix.Add("x", 3)
	ix.Add("x", 5)
	s, _ := ix.Lookup("x")
	assert.Equal(t, 3, s)
}

func TestAligner_RoutesEveryKnownUpdateOnce(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "delta")
	ix, err := BuildIndex(ctx, baseline())
	require.NoError(t, err)

	var misses []string
	a, err := NewAligner(dir, ix, WithMissHandler(func(e *model.Entity) error {
		misses = append(misses, e.ID)
		return nil
	}))
	require.NoError(t, err)

	s1 := Slice([]*model.Entity{
		{ID: "org/a", Source: "huggingface", Name: "first"},
		{ID: "github.com/org/c", Name: "tool"},
		{ID: "org/new", Name: "new"},
	})
	s2 := Slice([]*model.Entity{
		{ID: "hf-model--org--a", Name: "second"},
		{ID: "   "},
	})

	stats, err := a.Align(ctx, s1, s2)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Equal(t, AlignStats{Routed: 3, Missed: 1, Invalid: 1, Files: 2}, stats)
	assert.Equal(t, []string{"hf-model--org--new"}, misses)

	shards, err := Shards(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, shards)

	var names []string
	require.NoError(t, Replay(ctx, dir, 0, nil, func(e *model.Entity) error {
		assert.Equal(t, "hf-model--org--a", e.ID)
		names = append(names, e.Name)
		return nil
	}))
	assert.Equal(t, []string{"first", "second"}, names)

	var tools []string
	require.NoError(t, Replay(ctx, dir, 1, nil, func(e *model.Entity) error {
		tools = append(tools, e.ID)
		return nil
	}))
	assert.Equal(t, []string{"gh-tool--org--c"}, tools)
}

func TestAligner_AppendsAcrossCalls(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ix := Index{"hf-model--org--a": 4}

	a, err := NewAligner(dir, ix)
	require.NoError(t, err)
	_, err = a.Align(ctx, Slice([]*model.Entity{{ID: "hf-model--org--a", Name: "1"}}))
	require.NoError(t, err)
	_, err = a.Align(ctx, Slice([]*model.Entity{{ID: "hf-model--org--a", Name: "2"}}))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(filepath.Join(dir, "delta-004.ndjson"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestAligner_SourceErrorAborts(t *testing.T) {
	a, err := NewAligner(t.TempDir(), Index{})
	require.NoError(t, err)
	defer a.Close()

	boom := errors.New("adapter failed")
	src := func(yield func(*model.Entity, error) bool) {
		yield(nil, boom)
	}
	_, err = a.Align(context.Background(), src)
	assert.ErrorIs(t, err, boom)
}

func TestAligner_MissHandlerErrorAborts(t *testing.T) {
	boom := errors.New("insert batch full")
	a, err := NewAligner(t.TempDir(), Index{}, WithMissHandler(func(*model.Entity) error { return boom }))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Align(context.Background(), Slice([]*model.Entity{{ID: "x"}}))
	assert.ErrorIs(t, err, boom)
}

func TestReplay_MissingFile(t *testing.T) {
	called := false
	err := Replay(context.Background(), t.TempDir(), 7, nil, func(*model.Entity) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

// countingCodec records how often each direction is used.
type countingCodec struct {
	codec.Codec
	marshal, unmarshal *int
}

func (c countingCodec) Marshal(v any) ([]byte, error) {
	*c.marshal++
	return c.Codec.Marshal(v)
}

func (c countingCodec) Unmarshal(data []byte, v any) error {
	*c.unmarshal++
	return c.Codec.Unmarshal(data, v)
}

func TestReplay_UsesAlignerCodec(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "delta")
	var marshal, unmarshal int
	c := countingCodec{Codec: codec.Standard{}, marshal: &marshal, unmarshal: &unmarshal}

	a, err := NewAligner(dir, Index{"hf-model--org--x": 0, "hf-model--org--y": 0}, WithCodec(c))
	require.NoError(t, err)
	_, err = a.Align(ctx, Slice([]*model.Entity{{ID: "hf-model--org--x"}, {ID: "hf-model--org--y"}}))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.Equal(t, 2, marshal)

	var ids []string
	require.NoError(t, Replay(ctx, dir, 0, c, func(e *model.Entity) error {
		ids = append(ids, e.ID)
		return nil
	}))
	assert.Equal(t, []string{"hf-model--org--x", "hf-model--org--y"}, ids)
	assert.Equal(t, 2, unmarshal)
}

func TestLines_SkipsBlankAndBadLines(t *testing.T) {
	in := "{\"id\":\"a\"}\n\n{broken\n{\"id\":\"b\"}\r\n{\"id\":\"c\"}"
	var ids []string
	for e, err := range Lines(strings.NewReader(in), codec.Default) {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestDiscard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "delta")
	a, err := NewAligner(dir, Index{"hf-model--org--x": 0})
	require.NoError(t, err)
	stats, err := a.Align(context.Background(), Slice([]*model.Entity{{ID: "hf-model--org--x"}}))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Routed)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	require.NoError(t, Discard(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	shards, err := Shards(dir)
	require.NoError(t, err)
	assert.Empty(t, shards)
}
