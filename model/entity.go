package model

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"time"
)

// Entity is the atomic registry record.
//
// Zero values mean "absent": encoding omits them and the merge engine treats
// them as missing on the side that carries them.
type Entity struct {
	ID     string
	Type   Kind
	Name   string
	Author string
	Slug   string
	Source string

	// Description is the short summary shown in listings.
	Description string
	// Content is the long-form body (readme, paper body).
	Content string

	// Score is the ranking score read and written by downstream ranking code.
	Score        float64
	QualityScore float64
	Likes        int64
	Downloads    int64
	Stars        int64
	Citations    int64

	Percentile string
	Trend7D    []float64

	Tags        []string
	Meta        map[string]any
	SourceTrail []json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
	Status    Status
	LastSeen  time.Time

	// Secondary payload fields, packed into bundles by the packer.
	Changelog     string
	PaperAbstract string
	Benchmarks    json.RawMessage
	Relations     json.RawMessage

	// Extra holds keys outside the schema, preserved verbatim.
	Extra map[string]json.RawMessage
}

// LongForm returns the text used to compare content quality: the body when
// present, the description otherwise.
func (e *Entity) LongForm() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Description
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Trend7D = slices.Clone(e.Trend7D)
	c.Tags = slices.Clone(e.Tags)
	c.Meta = cloneMeta(e.Meta)
	if e.SourceTrail != nil {
		c.SourceTrail = make([]json.RawMessage, len(e.SourceTrail))
		for i, t := range e.SourceTrail {
			c.SourceTrail[i] = slices.Clone(t)
		}
	}
	c.Benchmarks = slices.Clone(e.Benchmarks)
	c.Relations = slices.Clone(e.Relations)
	if e.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = slices.Clone(v)
		}
	}
	return &c
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMeta(sub)
		}
	}
	return out
}

// ClampScore returns s with NaN, infinities and negatives mapped to zero.
func ClampScore(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return 0
	}
	return s
}

// MarshalJSON encodes the entity with canonical field names in schema order,
// followed by Extra keys in sorted order. The output is deterministic.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return encodeEntity(e)
}

// UnmarshalJSON decodes an entity, resolving field aliases through the schema.
func (e *Entity) UnmarshalJSON(data []byte) error {
	return decodeEntity(e, data)
}
