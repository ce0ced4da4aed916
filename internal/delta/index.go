package delta

import (
	"context"

	"github.com/hupe1980/nexus/model"
)

// Index maps a canonical id to the baseline shard that holds it.
type Index map[string]int

// Add records that id lives in shard. The first shard seen for an id wins.
func (ix Index) Add(id string, shard int) {
	if _, ok := ix[id]; !ok {
		ix[id] = shard
	}
}

// Lookup returns the shard for id.
func (ix Index) Lookup(id string) (int, bool) {
	s, ok := ix[id]
	return s, ok
}

// ShardScanner streams a baseline registry one shard at a time.
type ShardScanner interface {
	Scan(ctx context.Context, fn func(*model.Shard) error) error
}

// BuildIndex builds the index from one pass over the baseline.
func BuildIndex(ctx context.Context, s ShardScanner) (Index, error) {
	ix := make(Index)
	err := s.Scan(ctx, func(sh *model.Shard) error {
		for _, e := range sh.Entities {
			ix.Add(e.ID, sh.Index)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}
