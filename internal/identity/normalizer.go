package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/nexus/model"
)

// MaxPasses bounds the prefix stripping loop.
const MaxPasses = 8

// Built-in sources.
const (
	SourceHF         = "hf"
	SourceGitHub     = "gh"
	SourceArxiv      = "arxiv"
	SourceCivitai    = "civitai"
	SourceKaggle     = "kaggle"
	SourceOllama     = "ollama"
	SourceReplicate  = "replicate"
	SourceModelScope = "modelscope"
)

var (
	// ErrEmpty is returned when nothing is left of the id after cleaning.
	ErrEmpty = errors.New("identity: empty id")
	// ErrUnknownSource is returned for a declared source that is not registered.
	ErrUnknownSource = errors.New("identity: unknown source")
	// ErrUnknownKind is returned for a declared kind that is not valid.
	ErrUnknownKind = errors.New("identity: unknown kind")
)

var (
	arxivShape    = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)
	arxivRevision = regexp.MustCompile(`(\d)v\d+$`)
	schemePrefix  = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
)

// stripSuffixes are removed from the end of the id, repeatedly.
var stripSuffixes = []string{".json.gz", ".meta.json", ".metadata", ".json", ".meta", ".md"}

type hostRule struct {
	host string
	hint hint
}

// hostRules are matched in order against the id after the URL scheme and
// "www." are removed. Matching rules also strip the host from the id.
var hostRules = []hostRule{
	{"huggingface.co/datasets/", hint{SourceHF, model.KindDataset}},
	{"huggingface.co/spaces/", hint{SourceHF, model.KindSpace}},
	{"huggingface.co/", hint{SourceHF, ""}},
	{"hf.co/", hint{SourceHF, ""}},
	{"github.com/", hint{SourceGitHub, ""}},
	{"arxiv.org/abs/", hint{SourceArxiv, model.KindPaper}},
	{"arxiv.org/pdf/", hint{SourceArxiv, model.KindPaper}},
	{"arxiv.org/", hint{SourceArxiv, model.KindPaper}},
	{"civitai.com/models/", hint{SourceCivitai, model.KindModel}},
	{"civitai.com/", hint{SourceCivitai, ""}},
	{"kaggle.com/datasets/", hint{SourceKaggle, model.KindDataset}},
	{"kaggle.com/", hint{SourceKaggle, ""}},
	{"ollama.com/library/", hint{SourceOllama, model.KindModel}},
	{"ollama.com/", hint{SourceOllama, ""}},
	{"replicate.com/", hint{SourceReplicate, ""}},
	{"modelscope.cn/models/", hint{SourceModelScope, model.KindModel}},
}

// substrings checked against the raw id when no host rule stripped anything.
var hostSubstrings = []hostRule{
	{"huggingface.co", hint{SourceHF, ""}},
	{"github.com", hint{SourceGitHub, ""}},
	{"arxiv.org", hint{SourceArxiv, ""}},
	{"civitai.com", hint{SourceCivitai, ""}},
	{"kaggle.com", hint{SourceKaggle, ""}},
}

// Normalizer produces canonical ids. It is safe for concurrent use once
// constructed.
type Normalizer struct {
	prefixes     trie
	defaultKinds map[string]model.Kind
	aliases      map[string]string
	defaultSrc   string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithSource registers an additional source with its default kind.
func WithSource(source string, defaultKind model.Kind) Option {
	return func(n *Normalizer) {
		n.defaultKinds[strings.ToLower(source)] = defaultKind
	}
}

// WithAlias maps an alternative source spelling to a registered source.
func WithAlias(alias, source string) Option {
	return func(n *Normalizer) {
		n.aliases[strings.ToLower(alias)] = strings.ToLower(source)
	}
}

// New returns a Normalizer with the built-in sources, kinds and legacy prefixes.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		defaultKinds: map[string]model.Kind{
			SourceHF:         model.KindModel,
			SourceGitHub:     model.KindTool,
			SourceArxiv:      model.KindPaper,
			SourceCivitai:    model.KindModel,
			SourceKaggle:     model.KindDataset,
			SourceOllama:     model.KindModel,
			SourceReplicate:  model.KindModel,
			SourceModelScope: model.KindModel,
		},
		aliases: map[string]string{
			"huggingface": SourceHF,
			"github":      SourceGitHub,
		},
		defaultSrc: SourceHF,
	}
	for _, opt := range opts {
		opt(n)
	}

	for source := range n.defaultKinds {
		for _, kind := range model.Kinds {
			n.prefixes.insert(prefixEntry{
				prefix: canonicalPrefix(source, kind),
				hint:   hint{source, kind},
			})
		}
	}
	for _, legacy := range []prefixEntry{
		{prefix: "huggingface--", hint: hint{SourceHF, ""}},
		{prefix: "github--", hint: hint{SourceGitHub, ""}},
		{prefix: "arxiv--", hint: hint{SourceArxiv, model.KindPaper}},
		{prefix: "paper--", hint: hint{SourceArxiv, model.KindPaper}},
		{prefix: "civitai--", hint: hint{SourceCivitai, ""}},
		{prefix: "kaggle--", hint: hint{SourceKaggle, ""}},
	} {
		legacy.legacy = true
		n.prefixes.insert(legacy)
	}
	return n
}

// ResolveSource maps a declared source through the alias table. ok is false
// for unknown sources. An empty input yields ("", true).
func (n *Normalizer) ResolveSource(source string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return "", true
	}
	if alias, ok := n.aliases[s]; ok {
		s = alias
	}
	_, ok := n.defaultKinds[s]
	return s, ok
}

// Normalize returns the canonical id for raw. source and kind are optional
// declarations and take precedence over anything inferred from raw.
func (n *Normalizer) Normalize(raw, source, kind string) (string, error) {
	declaredSource, ok := n.ResolveSource(source)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	var declaredKind model.Kind
	if strings.TrimSpace(kind) != "" {
		k, ok := model.ParseKind(kind)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		declaredKind = k
	}

	cleaned, hostHint := clean(raw)
	rest, prefixHint := n.strip(cleaned, declaredSource, true)

	var heuristic hint
	switch {
	case !hostHint.empty():
		heuristic = hostHint
	case arxivShape.MatchString(rest):
		heuristic = hint{SourceArxiv, model.KindPaper}
	default:
		heuristic = substringHint(strings.ToLower(raw))
	}

	src := firstNonEmpty(declaredSource, prefixHint.source, heuristic.source, n.defaultSrc)
	k := declaredKind
	if k == "" && prefixHint.source == src {
		k = prefixHint.kind
	}
	if k == "" && heuristic.source == src {
		k = heuristic.kind
	}
	if k == "" {
		k = n.defaultKinds[src]
	}

	if src == SourceArxiv {
		rest = arxivRevision.ReplaceAllString(rest, "$1")
	}

	// Safety pass over anything the first loop left behind.
	rest, _ = n.strip(rest, declaredSource, false)
	rest = strings.Trim(rest, "-")
	if rest == "" {
		return "", ErrEmpty
	}
	return canonicalPrefix(src, k) + rest, nil
}

// NormalizeEntity rewrites e.ID to its canonical form and fills Source and
// Type from the resolved prefix when they are empty.
func (n *Normalizer) NormalizeEntity(e *model.Entity) error {
	id, err := n.Normalize(e.ID, e.Source, string(e.Type))
	if err != nil {
		return err
	}
	e.ID = id
	parsed, err := Parse(id)
	if err != nil {
		return err
	}
	if e.Source == "" {
		e.Source = parsed.Source
	}
	if e.Type == "" {
		e.Type = parsed.Kind
	}
	return nil
}

type stripState int

const (
	stateScanning stripState = iota
	stateStripped
	stateDone
)

// strip removes known prefixes from the front of s until none matches or
// MaxPasses is reached. A legacy prefix is only recognized as the very first
// prefix, and only when allowLegacy is set. The first canonical prefix
// provides the hint; a legacy hint is used when no canonical prefix follows.
func (n *Normalizer) strip(s, declaredSource string, allowLegacy bool) (string, hint) {
	var (
		canonical, legacy hint
		state             = stateScanning
		passes            int
	)
	for state != stateDone {
		switch state {
		case stateScanning:
			if passes >= MaxPasses {
				state = stateDone
				continue
			}
			e, ok := n.prefixes.longest(s)
			if !ok || (e.legacy && (!allowLegacy || passes > 0)) ||
				!n.strippable(e, s[len(e.prefix):], declaredSource) {
				state = stateDone
				continue
			}
			s = s[len(e.prefix):]
			passes++
			if e.legacy {
				if legacy.empty() {
					legacy = e.hint
				}
			} else if canonical.empty() {
				canonical = e.hint
			}
			state = stateStripped
		case stateStripped:
			state = stateScanning
		}
	}
	if !canonical.empty() {
		return s, canonical
	}
	return s, legacy
}

// strippable guards against removing a prefix that is really data.
func (n *Normalizer) strippable(e *prefixEntry, rest, declaredSource string) bool {
	if strings.Trim(rest, "-") == "" {
		return false
	}
	if !e.legacy {
		return true
	}
	if declaredSource != "" && declaredSource != e.hint.source {
		// An owner literally named like another source.
		return false
	}
	if e.hint.source == SourceArxiv {
		return arxivShape.MatchString(rest) || arxivRevision.MatchString(rest)
	}
	return true
}

// clean lowercases raw, removes URL scheme and known hosts, strips file
// suffixes and turns path separators into "--".
func clean(raw string) (string, hint) {
	s := strings.ToLower(strings.TrimSpace(raw))

	var h hint
	if loc := schemePrefix.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	s = strings.TrimPrefix(s, "www.")
	for _, rule := range hostRules {
		if rest, ok := strings.CutPrefix(s, rule.host); ok {
			s, h = rest, rule.hint
			break
		}
	}
	if h.source == SourceArxiv {
		s = strings.TrimSuffix(s, ".pdf")
	}

	for {
		trimmed := s
		for _, suf := range stripSuffixes {
			trimmed = strings.TrimSuffix(trimmed, suf)
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}

	s = strings.NewReplacer("/", "--", ":", "--").Replace(s)
	return strings.Trim(s, "-"), h
}

func substringHint(raw string) hint {
	for _, rule := range hostSubstrings {
		if strings.Contains(raw, rule.host) {
			return rule.hint
		}
	}
	return hint{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
