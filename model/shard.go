package model

import "time"

// Shard is a positional slice of the registry.
//
// Membership depends on row order at save time, not on entity ids: the full
// shard set is regenerated on every save.
type Shard struct {
	Index       int       `json:"index"`
	Count       int       `json:"count"`
	Total       int       `json:"total"`
	LastUpdated time.Time `json:"lastUpdated"`
	Entities    []*Entity `json:"entities"`
}
