package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_DecodeResolvesAliases(t *testing.T) {
	data := `{
		"umid": "hf-model--meta--llama",
		"entity_type": "MODEL",
		"title": "Llama",
		"creator": "meta",
		"fni": 42.5,
		"github_stars": "17",
		"meta_json": "{\"license\":\"mit\"}",
		"source_trail": [{"source":"hf"}],
		"last_modified": "2026-01-02T03:04:05Z",
		"custom_field": {"x": 1}
	}`

	var e Entity
	require.NoError(t, json.Unmarshal([]byte(data), &e))

	assert.Equal(t, "hf-model--meta--llama", e.ID)
	assert.Equal(t, KindModel, e.Type)
	assert.Equal(t, "Llama", e.Name)
	assert.Equal(t, "meta", e.Author)
	assert.Equal(t, 42.5, e.Score)
	assert.Equal(t, int64(17), e.Stars)
	assert.Equal(t, map[string]any{"license": "mit"}, e.Meta)
	assert.Len(t, e.SourceTrail, 1)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), e.UpdatedAt)
	assert.JSONEq(t, `{"x":1}`, string(e.Extra["custom_field"]))
}

func TestEntity_CanonicalNameWinsOverAlias(t *testing.T) {
	var e Entity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","fni_score":3,"fni":9}`), &e))
	assert.Equal(t, 3.0, e.Score)
	// The unused alias is preserved rather than dropped.
	assert.JSONEq(t, `9`, string(e.Extra["fni"]))
}

func TestEntity_NegativeScoreIsClamped(t *testing.T) {
	var e Entity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","fni_score":-4,"likes":-1}`), &e))
	assert.Zero(t, e.Score)
	assert.Zero(t, e.Likes)
}

func TestEntity_UnresolvableValueKeptInExtra(t *testing.T) {
	var e Entity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","type":"galaxy"}`), &e))
	assert.Empty(t, e.Type)
	assert.JSONEq(t, `"galaxy"`, string(e.Extra["type"]))
}

func TestEntity_RoundTripIsDeterministic(t *testing.T) {
	src := `{"id":"a","zeta":1,"alpha":"x","name":"n","tags":["t1","t2"],"meta_json":{"b":1,"a":2}}`

	var e Entity
	require.NoError(t, json.Unmarshal([]byte(src), &e))

	first, err := json.Marshal(&e)
	require.NoError(t, err)

	var again Entity
	require.NoError(t, json.Unmarshal(first, &again))
	second, err := json.Marshal(&again)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.True(t, strings.HasPrefix(string(first), `{"id":"a","name":"n"`))
	assert.True(t, strings.Index(string(first), `"alpha"`) < strings.Index(string(first), `"zeta"`))
}

func TestEntity_DecodeRejectsNonObject(t *testing.T) {
	var e Entity
	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &e))
}

func TestEntity_CloneIsDeep(t *testing.T) {
	e := &Entity{
		ID:   "a",
		Tags: []string{"x"},
		Meta: map[string]any{"extended": map[string]any{"k": "v"}},
	}
	c := e.Clone()
	c.Tags[0] = "y"
	c.Meta["extended"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "x", e.Tags[0])
	assert.Equal(t, "v", e.Meta["extended"].(map[string]any)["k"])
}

func TestProject_DerivesSummaryFromBody(t *testing.T) {
	e := &Entity{
		ID:      "a",
		Content: "# Title\n\n<p>Some **bold** text</p>",
		Meta:    map[string]any{"k": 1},
	}
	p := Project(e)
	assert.Equal(t, "Title Some bold text", p.Description)
	assert.Empty(t, p.Content)
	assert.Nil(t, p.Meta)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" Paper ")
	assert.True(t, ok)
	assert.Equal(t, KindPaper, k)

	_, ok = ParseKind("report")
	assert.False(t, ok)
}
