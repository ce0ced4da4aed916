package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// fieldSpec describes one schema field: its canonical JSON name, the aliases
// accepted on decode (in priority order) and how the value is resolved.
type fieldSpec struct {
	name    string
	aliases []string
	present func(e *Entity) bool
	encode  func(e *Entity) any
	decode  func(e *Entity, raw json.RawMessage) error
}

var schema = []fieldSpec{
	{
		name: "id", aliases: []string{"umid"},
		present: func(e *Entity) bool { return e.ID != "" },
		encode:  func(e *Entity) any { return e.ID },
		decode:  stringInto(func(e *Entity) *string { return &e.ID }),
	},
	{
		name: "type", aliases: []string{"entity_type"},
		present: func(e *Entity) bool { return e.Type != "" },
		encode:  func(e *Entity) any { return string(e.Type) },
		decode: func(e *Entity, raw json.RawMessage) error {
			s, err := ResolveString(raw)
			if err != nil {
				return err
			}
			k, ok := ParseKind(s)
			if !ok {
				return fmt.Errorf("unknown kind %q", s)
			}
			e.Type = k
			return nil
		},
	},
	{
		name: "name", aliases: []string{"title", "displayName"},
		present: func(e *Entity) bool { return e.Name != "" },
		encode:  func(e *Entity) any { return e.Name },
		decode:  stringInto(func(e *Entity) *string { return &e.Name }),
	},
	{
		name: "author", aliases: []string{"creator", "organization"},
		present: func(e *Entity) bool { return e.Author != "" },
		encode:  func(e *Entity) any { return e.Author },
		decode:  stringInto(func(e *Entity) *string { return &e.Author }),
	},
	{
		name:    "slug",
		present: func(e *Entity) bool { return e.Slug != "" },
		encode:  func(e *Entity) any { return e.Slug },
		decode:  stringInto(func(e *Entity) *string { return &e.Slug }),
	},
	{
		name:    "source",
		present: func(e *Entity) bool { return e.Source != "" },
		encode:  func(e *Entity) any { return e.Source },
		decode:  stringInto(func(e *Entity) *string { return &e.Source }),
	},
	{
		name: "description", aliases: []string{"summary"},
		present: func(e *Entity) bool { return e.Description != "" },
		encode:  func(e *Entity) any { return e.Description },
		decode:  stringInto(func(e *Entity) *string { return &e.Description }),
	},
	{
		name: "body_content", aliases: []string{"readme", "content", "html_readme"},
		present: func(e *Entity) bool { return e.Content != "" },
		encode:  func(e *Entity) any { return e.Content },
		decode:  stringInto(func(e *Entity) *string { return &e.Content }),
	},
	{
		name: "fni_score", aliases: []string{"fni"},
		present: func(e *Entity) bool { return e.Score != 0 },
		encode:  func(e *Entity) any { return e.Score },
		decode: func(e *Entity, raw json.RawMessage) error {
			f, err := ResolveFloat(raw)
			e.Score = ClampScore(f)
			return err
		},
	},
	{
		name:    "quality_score",
		present: func(e *Entity) bool { return e.QualityScore != 0 },
		encode:  func(e *Entity) any { return e.QualityScore },
		decode: func(e *Entity, raw json.RawMessage) error {
			f, err := ResolveFloat(raw)
			e.QualityScore = ClampScore(f)
			return err
		},
	},
	intField("likes", nil, func(e *Entity) *int64 { return &e.Likes }),
	intField("downloads", nil, func(e *Entity) *int64 { return &e.Downloads }),
	intField("stars", []string{"github_stars"}, func(e *Entity) *int64 { return &e.Stars }),
	intField("citations", nil, func(e *Entity) *int64 { return &e.Citations }),
	{
		name: "fni_percentile", aliases: []string{"percentile"},
		present: func(e *Entity) bool { return e.Percentile != "" },
		encode:  func(e *Entity) any { return e.Percentile },
		decode:  stringInto(func(e *Entity) *string { return &e.Percentile }),
	},
	{
		name: "fni_trend_7d", aliases: []string{"_trend_7d"},
		present: func(e *Entity) bool { return len(e.Trend7D) > 0 },
		encode:  func(e *Entity) any { return e.Trend7D },
		decode: func(e *Entity, raw json.RawMessage) error {
			v, err := ResolveFloats(raw)
			e.Trend7D = v
			return err
		},
	},
	{
		name:    "tags",
		present: func(e *Entity) bool { return len(e.Tags) > 0 },
		encode:  func(e *Entity) any { return e.Tags },
		decode: func(e *Entity, raw json.RawMessage) error {
			v, err := ResolveStrings(raw)
			e.Tags = v
			return err
		},
	},
	{
		name: "meta_json", aliases: []string{"metadata"},
		present: func(e *Entity) bool { return len(e.Meta) > 0 },
		encode:  func(e *Entity) any { return e.Meta },
		decode: func(e *Entity, raw json.RawMessage) error {
			v, err := ResolveObject(raw)
			e.Meta = v
			return err
		},
	},
	{
		name:    "source_trail",
		present: func(e *Entity) bool { return len(e.SourceTrail) > 0 },
		encode:  func(e *Entity) any { return e.SourceTrail },
		decode: func(e *Entity, raw json.RawMessage) error {
			v, err := ResolveArray(raw)
			e.SourceTrail = v
			return err
		},
	},
	timeField("created_at", []string{"published_date"}, func(e *Entity) *time.Time { return &e.CreatedAt }),
	timeField("_updated", []string{"last_updated", "last_modified", "lastModified"}, func(e *Entity) *time.Time { return &e.UpdatedAt }),
	{
		name:    "status",
		present: func(e *Entity) bool { return e.Status != "" },
		encode:  func(e *Entity) any { return string(e.Status) },
		decode: func(e *Entity, raw json.RawMessage) error {
			s, err := ResolveString(raw)
			switch Status(s) {
			case StatusActive, StatusArchived:
				e.Status = Status(s)
			default:
				if err == nil {
					err = fmt.Errorf("unknown status %q", s)
				}
			}
			return err
		},
	},
	timeField("_last_seen", nil, func(e *Entity) *time.Time { return &e.LastSeen }),
	{
		name:    "changelog",
		present: func(e *Entity) bool { return e.Changelog != "" },
		encode:  func(e *Entity) any { return e.Changelog },
		decode:  stringInto(func(e *Entity) *string { return &e.Changelog }),
	},
	{
		name:    "paper_abstract",
		present: func(e *Entity) bool { return e.PaperAbstract != "" },
		encode:  func(e *Entity) any { return e.PaperAbstract },
		decode:  stringInto(func(e *Entity) *string { return &e.PaperAbstract }),
	},
	rawField("benchmarks", func(e *Entity) *json.RawMessage { return &e.Benchmarks }),
	rawField("relations", func(e *Entity) *json.RawMessage { return &e.Relations }),
}

func stringInto(ptr func(e *Entity) *string) func(*Entity, json.RawMessage) error {
	return func(e *Entity, raw json.RawMessage) error {
		s, err := ResolveString(raw)
		if err != nil {
			return err
		}
		*ptr(e) = s
		return nil
	}
}

func intField(name string, aliases []string, ptr func(e *Entity) *int64) fieldSpec {
	return fieldSpec{
		name: name, aliases: aliases,
		present: func(e *Entity) bool { return *ptr(e) != 0 },
		encode:  func(e *Entity) any { return *ptr(e) },
		decode: func(e *Entity, raw json.RawMessage) error {
			f, err := ResolveFloat(raw)
			if err != nil {
				return err
			}
			*ptr(e) = int64(ClampScore(f))
			return nil
		},
	}
}

func timeField(name string, aliases []string, ptr func(e *Entity) *time.Time) fieldSpec {
	return fieldSpec{
		name: name, aliases: aliases,
		present: func(e *Entity) bool { return !ptr(e).IsZero() },
		encode:  func(e *Entity) any { return ptr(e).UTC().Format(time.RFC3339Nano) },
		decode: func(e *Entity, raw json.RawMessage) error {
			t, err := ResolveTime(raw)
			if err != nil {
				return err
			}
			*ptr(e) = t
			return nil
		},
	}
}

func rawField(name string, ptr func(e *Entity) *json.RawMessage) fieldSpec {
	return fieldSpec{
		name:    name,
		present: func(e *Entity) bool { return len(*ptr(e)) > 0 },
		encode:  func(e *Entity) any { return *ptr(e) },
		decode: func(e *Entity, raw json.RawMessage) error {
			*ptr(e) = slices.Clone(raw)
			return nil
		},
	}
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

var errNotObject = errors.New("model: entity is not a JSON object")

func decodeEntity(e *Entity, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errNotObject
	}

	*e = Entity{}
	for _, f := range schema {
		for _, key := range append([]string{f.name}, f.aliases...) {
			v, ok := raw[key]
			if !ok || isNull(v) {
				continue
			}
			if err := f.decode(e, v); err != nil {
				// Unresolvable value: keep it verbatim and try the next alias.
				continue
			}
			delete(raw, key)
			break
		}
	}

	for k, v := range raw {
		if isNull(v) {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]json.RawMessage, len(raw))
		}
		e.Extra[k] = slices.Clone(v)
	}
	return nil
}

func encodeEntity(e *Entity) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("model: encode %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(b)
		return nil
	}

	present := make(map[string]bool, len(schema))
	for _, f := range schema {
		if !f.present(e) {
			continue
		}
		present[f.name] = true
		if err := write(f.name, f.encode(e)); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		if present[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, e.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ResolveString accepts a JSON string or a JSON number (kept as its literal).
func ResolveString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("model: not a string: %s", truncate(raw))
}

// ResolveFloat accepts a JSON number or a numeric string.
func ResolveFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err == nil && !math.IsNaN(f) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("model: not a number: %s", truncate(raw))
}

// ResolveFloats accepts an array of numbers or a comma-separated string.
func ResolveFloats(raw json.RawMessage) ([]float64, error) {
	var fs []float64
	if err := json.Unmarshal(raw, &fs); err == nil {
		return fs, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("model: not a number list: %s", truncate(raw))
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("model: not a number list: %w", err)
		}
		fs = append(fs, f)
	}
	return fs, nil
}

// ResolveStrings accepts an array; non-string elements are skipped.
func ResolveStrings(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("model: not a list: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if json.Unmarshal(it, &s) == nil && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// ResolveObject accepts a JSON object or a string holding an encoded object.
func ResolveObject(raw json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("model: not an object: %s", truncate(raw))
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("model: not an object: %w", err)
	}
	return m, nil
}

// ResolveArray accepts a JSON array or a string holding an encoded array.
func ResolveArray(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("model: not an array: %s", truncate(raw))
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("model: not an array: %w", err)
	}
	return items, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ResolveTime accepts RFC 3339-like strings, dates, or unix epochs
// (seconds or milliseconds).
func ResolveTime(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("model: unparseable time %q", s)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		if n > 1e11 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		return time.Unix(int64(n), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("model: not a time: %s", truncate(raw))
}

func truncate(raw json.RawMessage) string {
	if len(raw) > 32 {
		return string(raw[:32]) + "..."
	}
	return string(raw)
}
