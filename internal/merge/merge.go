// Package merge resolves two versions of the same registry entity into one.
//
// Merge is deliberately not commutative: the content quality guard and the
// freshness comparison depend on which side is the existing record.
package merge

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/nexus/model"
)

// ExtendedKey is the metadata sub-map that is merged one level deeper.
const ExtendedKey = "extended"

// Defaults.
const (
	DefaultQualityRatio    = 1.2
	DefaultFreshnessWindow = 24 * time.Hour
	DefaultTrailCap        = 10
)

// Merger holds the merge policy parameters. The zero value is not usable;
// construct with New.
type Merger struct {
	// QualityRatio is how much longer the existing long-form text must be
	// before it is kept over the incoming text.
	QualityRatio float64
	// FreshnessWindow is how much newer incoming must be to override the
	// quality guard.
	FreshnessWindow time.Duration
	// TrailCap bounds the merged provenance trail.
	TrailCap int
	// Now supplies the merge timestamp when incoming carries none.
	Now func() time.Time
}

// Option configures a Merger.
type Option func(*Merger)

// WithQualityRatio sets the quality guard ratio.
func WithQualityRatio(r float64) Option { return func(m *Merger) { m.QualityRatio = r } }

// WithFreshnessWindow sets the freshness window.
func WithFreshnessWindow(d time.Duration) Option { return func(m *Merger) { m.FreshnessWindow = d } }

// WithTrailCap sets the provenance trail cap.
func WithTrailCap(n int) Option { return func(m *Merger) { m.TrailCap = n } }

// WithClock sets the clock.
func WithClock(now func() time.Time) Option { return func(m *Merger) { m.Now = now } }

// New returns a Merger with default policy.
func New(opts ...Option) *Merger {
	m := &Merger{
		QualityRatio:    DefaultQualityRatio,
		FreshnessWindow: DefaultFreshnessWindow,
		TrailCap:        DefaultTrailCap,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge folds incoming into existing and returns a new entity. Neither input
// is modified. Merging two nil entities yields nil.
func (m *Merger) Merge(existing, incoming *model.Entity) *model.Entity {
	if existing == nil {
		if incoming == nil {
			return nil
		}
		return m.stamp(incoming.Clone(), incoming)
	}
	if incoming == nil {
		return existing.Clone()
	}

	out := existing.Clone()
	overlay(out, incoming)

	if m.keepExistingText(existing, incoming) {
		out.Content = existing.Content
		out.Description = existing.Description
	}

	out.Meta = mergeMeta(existing.Meta, incoming.Meta)
	out.SourceTrail = m.mergeTrail(existing.SourceTrail, incoming.SourceTrail)
	sticky(out, existing, incoming)
	out.Tags = union(existing.Tags, incoming.Tags)

	if existing.ID != "" {
		out.ID = existing.ID
	}
	return m.stamp(out, incoming)
}

// MergeSlim merges summary fields only: whichever side already has a value
// keeps it, with existing taking precedence. Stickiness maxima and the tag
// union still apply. Text and metadata are not merged.
func (m *Merger) MergeSlim(existing, incoming *model.Entity) *model.Entity {
	if existing == nil {
		if incoming == nil {
			return nil
		}
		return m.stamp(incoming.Clone(), incoming)
	}
	if incoming == nil {
		return existing.Clone()
	}

	out := incoming.Clone()
	overlay(out, existing)
	sticky(out, existing, incoming)
	out.Tags = union(existing.Tags, incoming.Tags)
	return m.stamp(out, incoming)
}

func (m *Merger) stamp(out, incoming *model.Entity) *model.Entity {
	if !incoming.UpdatedAt.IsZero() {
		out.UpdatedAt = incoming.UpdatedAt
	} else {
		out.UpdatedAt = m.Now().UTC()
	}
	return out
}

// keepExistingText reports whether the quality guard applies: existing's
// long-form text is more than QualityRatio times longer and incoming is not
// strictly newer by more than FreshnessWindow.
func (m *Merger) keepExistingText(existing, incoming *model.Entity) bool {
	var exLen, inLen int
	if existing.Content != "" || incoming.Content != "" {
		exLen, inLen = len(existing.Content), len(incoming.Content)
	} else {
		exLen, inLen = len(existing.Description), len(incoming.Description)
	}
	if float64(exLen) <= m.QualityRatio*float64(inLen) {
		return false
	}
	return !m.strictlyNewer(existing, incoming)
}

func (m *Merger) strictlyNewer(existing, incoming *model.Entity) bool {
	if existing.UpdatedAt.IsZero() || incoming.UpdatedAt.IsZero() {
		return false
	}
	return incoming.UpdatedAt.Sub(existing.UpdatedAt) > m.FreshnessWindow
}

func (m *Merger) mergeTrail(a, b []json.RawMessage) []json.RawMessage {
	if len(a)+len(b) == 0 {
		return nil
	}
	trail := make([]json.RawMessage, 0, len(a)+len(b))
	for _, t := range a {
		trail = append(trail, slices.Clone(t))
	}
	for _, t := range b {
		trail = append(trail, slices.Clone(t))
	}
	if m.TrailCap > 0 && len(trail) > m.TrailCap {
		trail = trail[len(trail)-m.TrailCap:]
	}
	return trail
}

// overlay copies every non-zero field of src onto dst.
func overlay(dst, src *model.Entity) {
	setString(&dst.ID, src.ID)
	if src.Type != "" {
		dst.Type = src.Type
	}
	setString(&dst.Name, src.Name)
	setString(&dst.Author, src.Author)
	setString(&dst.Slug, src.Slug)
	setString(&dst.Source, src.Source)
	setString(&dst.Description, src.Description)
	setString(&dst.Content, src.Content)
	if src.Stars != 0 {
		dst.Stars = src.Stars
	}
	if src.Citations != 0 {
		dst.Citations = src.Citations
	}
	setString(&dst.Percentile, src.Percentile)
	if len(src.Trend7D) > 0 {
		dst.Trend7D = slices.Clone(src.Trend7D)
	}
	if len(src.Meta) > 0 {
		dst.Meta = mergeMeta(nil, src.Meta)
	}
	if len(src.SourceTrail) > 0 {
		dst.SourceTrail = slices.Clone(src.SourceTrail)
	}
	setTime(&dst.CreatedAt, src.CreatedAt)
	setTime(&dst.UpdatedAt, src.UpdatedAt)
	if src.Status != "" {
		dst.Status = src.Status
	}
	setTime(&dst.LastSeen, src.LastSeen)
	setString(&dst.Changelog, src.Changelog)
	setString(&dst.PaperAbstract, src.PaperAbstract)
	if len(src.Benchmarks) > 0 {
		dst.Benchmarks = slices.Clone(src.Benchmarks)
	}
	if len(src.Relations) > 0 {
		dst.Relations = slices.Clone(src.Relations)
	}
	if len(src.Extra) > 0 {
		if dst.Extra == nil {
			dst.Extra = make(map[string]json.RawMessage, len(src.Extra))
		}
		for k, v := range src.Extra {
			dst.Extra[k] = slices.Clone(v)
		}
	}
}

// sticky applies the high-water mark to every stickiness field.
func sticky(out, a, b *model.Entity) {
	out.Score = model.ClampScore(max(a.Score, b.Score))
	out.QualityScore = model.ClampScore(max(a.QualityScore, b.QualityScore))
	out.Likes = max(a.Likes, b.Likes)
	out.Downloads = max(a.Downloads, b.Downloads)
}

// mergeMeta merges b over a key by key. The extended sub-map is merged one
// level deeper when both sides carry it.
func mergeMeta(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	maps.Copy(out, cloneMap(a))
	maps.Copy(out, cloneMap(b))

	ea, okA := a[ExtendedKey].(map[string]any)
	eb, okB := b[ExtendedKey].(map[string]any)
	if okA && okB {
		ext := cloneMap(ea)
		maps.Copy(ext, cloneMap(eb))
		out[ExtendedKey] = ext
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMap(sub)
		}
	}
	return out
}

// union returns the tags of a followed by the new tags of b, in order.
func union(a, b []string) []string {
	if len(a)+len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setTime(dst *time.Time, v time.Time) {
	if !v.IsZero() {
		*dst = v
	}
}
