package identity

import (
	"fmt"
	"strings"

	"github.com/hupe1980/nexus/model"
)

// ID is a parsed canonical id.
type ID struct {
	Source string
	Kind   model.Kind
	Owner  string
	Name   string
}

// Slug returns "owner/name", or just the name when there is no owner.
func (id ID) Slug() string {
	if id.Owner == "" {
		return id.Name
	}
	return id.Owner + "/" + id.Name
}

// String reassembles the canonical id.
func (id ID) String() string {
	rest := id.Name
	if id.Owner != "" {
		rest = id.Owner + "--" + id.Name
	}
	return canonicalPrefix(id.Source, id.Kind) + rest
}

// Parse splits a canonical id into its parts. It does not normalize.
func Parse(canonical string) (ID, error) {
	head, rest, ok := strings.Cut(canonical, "--")
	if !ok || rest == "" {
		return ID{}, fmt.Errorf("identity: not a canonical id: %q", canonical)
	}
	source, kindStr, ok := strings.Cut(head, "-")
	if !ok || source == "" {
		return ID{}, fmt.Errorf("identity: missing source in %q", canonical)
	}
	kind, ok := model.ParseKind(kindStr)
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrUnknownKind, kindStr)
	}

	id := ID{Source: source, Kind: kind, Name: rest}
	if owner, name, ok := strings.Cut(rest, "--"); ok && name != "" {
		id.Owner, id.Name = owner, name
	}
	return id, nil
}
