package nexus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/delta"
	"github.com/hupe1980/nexus/internal/partition"
	"github.com/hupe1980/nexus/model"
)

// Source is one update stream handed to Aggregate. A yielded error ends
// the pass.
type Source = iter.Seq2[*model.Entity, error]

// SliceSource returns a Source over entities.
func SliceSource(entities ...*model.Entity) Source {
	return delta.Slice(entities)
}

var errStop = errors.New("nexus: source stopped")

// FileSource streams update records from path. Files ending in .ndjson or
// .jsonl hold one record per line; anything else is read as a JSON array or
// an {"entities":[...]} document, gzip-compressed or not. The file is opened
// when the Source is iterated.
func FileSource(path string) Source {
	return func(yield func(*model.Entity, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(nil, fmt.Errorf("nexus: open source: %w", err))
			return
		}
		defer f.Close()

		if strings.HasSuffix(path, ".ndjson") || strings.HasSuffix(path, ".jsonl") {
			for e, err := range delta.Lines(f, codec.Default) {
				if !yield(e, err) {
					return
				}
			}
			return
		}

		_, err = partition.Partition(context.Background(), f, func(e *model.Entity) error {
			if !yield(e, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(nil, fmt.Errorf("nexus: read source %s: %w", path, err))
		}
	}
}
