package delta

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/identity"
	"github.com/hupe1980/nexus/model"
)

// Source is one update stream. A yielded error ends the pass.
type Source = iter.Seq2[*model.Entity, error]

// FileName returns the delta file name for shard.
func FileName(shard int) string {
	return fmt.Sprintf("delta-%03d.ndjson", shard)
}

var fileNameRE = regexp.MustCompile(`^delta-(\d+)\.ndjson$`)

// AlignStats summarizes one Align call.
type AlignStats struct {
	// Routed counts updates appended to a delta file.
	Routed int64
	// Missed counts updates with no baseline shard.
	Missed int64
	// Invalid counts updates whose id could not be normalized.
	Invalid int64
	// Files is the number of distinct delta files written to.
	Files int
}

// Aligner appends updates to per-shard delta files under one directory.
// It is not safe for concurrent use.
type Aligner struct {
	dir    string
	index  Index
	norm   *identity.Normalizer
	codec  codec.Codec
	onMiss func(*model.Entity) error
	logger *slog.Logger

	files   map[int]*deltaFile
	scratch []byte
}

type deltaFile struct {
	f *os.File
	w *bufio.Writer
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithNormalizer sets the id normalizer applied to every update.
func WithNormalizer(n *identity.Normalizer) Option {
	return func(a *Aligner) { a.norm = n }
}

// WithCodec sets the line codec.
func WithCodec(c codec.Codec) Option {
	return func(a *Aligner) { a.codec = c }
}

// WithMissHandler sets the callback for updates not in the index. Without
// one, misses are counted and dropped.
func WithMissHandler(fn func(*model.Entity) error) Option {
	return func(a *Aligner) { a.onMiss = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aligner) { a.logger = l }
}

// NewAligner creates dir if needed and returns an Aligner routing by index.
func NewAligner(dir string, index Index, opts ...Option) (*Aligner, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("delta: create dir: %w", err)
	}
	a := &Aligner{
		dir:    dir,
		index:  index,
		norm:   identity.New(),
		codec:  codec.Default,
		logger: slog.New(slog.DiscardHandler),
		files:  make(map[int]*deltaFile),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Dir returns the delta directory.
func (a *Aligner) Dir() string { return a.dir }

// Align drains every source in order, routing each update to its shard's
// delta file. Update ids are rewritten to canonical form in place. Files are
// flushed before Align returns.
func (a *Aligner) Align(ctx context.Context, sources ...Source) (AlignStats, error) {
	var stats AlignStats
	err := a.align(ctx, &stats, sources)
	if ferr := a.flush(); err == nil {
		err = ferr
	}
	stats.Files = len(a.files)
	return stats, err
}

func (a *Aligner) align(ctx context.Context, stats *AlignStats, sources []Source) error {
	for _, src := range sources {
		for e, err := range src {
			if err != nil {
				return fmt.Errorf("delta: source: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if e == nil {
				continue
			}
			if err := a.norm.NormalizeEntity(e); err != nil {
				stats.Invalid++
				a.logger.Debug("delta: skipping update", "id", e.ID, "error", err)
				continue
			}
			shard, ok := a.index.Lookup(e.ID)
			if !ok {
				stats.Missed++
				if a.onMiss != nil {
					if err := a.onMiss(e); err != nil {
						return err
					}
				}
				continue
			}
			if err := a.append(shard, e); err != nil {
				return err
			}
			stats.Routed++
		}
	}
	return nil
}

func (a *Aligner) append(shard int, e *model.Entity) error {
	df, ok := a.files[shard]
	if !ok {
		f, err := os.OpenFile(filepath.Join(a.dir, FileName(shard)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("delta: open shard %d: %w", shard, err)
		}
		df = &deltaFile{f: f, w: bufio.NewWriterSize(f, 64<<10)}
		a.files[shard] = df
	}
	line, err := codec.AppendLine(a.codec, a.scratch[:0], e)
	if err != nil {
		return fmt.Errorf("delta: encode %s: %w", e.ID, err)
	}
	a.scratch = line
	if _, err := df.w.Write(a.scratch); err != nil {
		return fmt.Errorf("delta: append shard %d: %w", shard, err)
	}
	return nil
}

func (a *Aligner) flush() error {
	var errs []error
	for shard, df := range a.files {
		if err := df.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("delta: flush shard %d: %w", shard, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every open delta file.
func (a *Aligner) Close() error {
	errs := []error{a.flush()}
	for _, df := range a.files {
		errs = append(errs, df.f.Close())
	}
	clear(a.files)
	return errors.Join(errs...)
}

// Shards returns the shard indices that have a delta file in dir, ascending.
func Shards(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("delta: list: %w", err)
	}
	var shards []int
	for _, de := range entries {
		m := fileNameRE.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		shards = append(shards, n)
	}
	slices.Sort(shards)
	return shards, nil
}

// Replay calls fn for every update in shard's delta file, in arrival order.
// A missing file means no updates. Lines that fail to decode are skipped.
// c must match the codec the Aligner wrote with; nil means codec.Default.
func Replay(ctx context.Context, dir string, shard int, c codec.Codec, fn func(*model.Entity) error) error {
	f, err := os.Open(filepath.Join(dir, FileName(shard)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delta: open shard %d: %w", shard, err)
	}
	defer f.Close()

	for e, err := range Lines(f, c) {
		if err != nil {
			return fmt.Errorf("delta: replay shard %d: %w", shard, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Lines yields one entity per JSON line of r. Blank and undecodable lines
// are skipped; read errors are yielded and end the sequence. A nil c means
// codec.Default.
func Lines(r io.Reader, c codec.Codec) Source {
	if c == nil {
		c = codec.Default
	}
	return func(yield func(*model.Entity, error) bool) {
		br := bufio.NewReaderSize(r, 64<<10)
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				if e, ok := decodeLine(c, line); ok && !yield(e, nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func decodeLine(c codec.Codec, line []byte) (*model.Entity, bool) {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return nil, false
	}
	var e model.Entity
	if err := c.Unmarshal(line, &e); err != nil {
		return nil, false
	}
	return &e, true
}

// Slice returns a Source over entities, for tests and in-memory callers.
func Slice(entities []*model.Entity) Source {
	return func(yield func(*model.Entity, error) bool) {
		for _, e := range entities {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Discard removes the delta directory and everything in it.
func Discard(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delta: discard: %w", err)
	}
	return nil
}
