package model

import "strings"

// Kind is the entity type.
type Kind string

const (
	KindModel   Kind = "model"
	KindPaper   Kind = "paper"
	KindDataset Kind = "dataset"
	KindSpace   Kind = "space"
	KindAgent   Kind = "agent"
	KindTool    Kind = "tool"
)

// Kinds lists every known entity kind.
var Kinds = []Kind{KindModel, KindPaper, KindDataset, KindSpace, KindAgent, KindTool}

// ParseKind parses a kind case-insensitively. ok is false for unknown values.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindModel, KindPaper, KindDataset, KindSpace, KindAgent, KindTool:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of an entity inside an aggregation pass.
type Status string

const (
	// StatusActive marks an entity refreshed by the current pass.
	StatusActive Status = "active"
	// StatusArchived marks an entity that was not seen by the current pass.
	StatusArchived Status = "archived"
)
