package nexus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/accumulator"
	"github.com/hupe1980/nexus/internal/delta"
	"github.com/hupe1980/nexus/internal/merge"
	"github.com/hupe1980/nexus/model"
	"github.com/hupe1980/nexus/registry"
)

const insertsName = "inserts.ndjson"

// AggregateResult summarizes one merge pass.
type AggregateResult struct {
	// Baseline is the number of entities streamed from the registry.
	Baseline int
	// Routed, Inserts and Invalid count update records matched to a
	// baseline shard, new to the registry, and rejected by the normalizer.
	Routed  int64
	Inserts int64
	Invalid int64
	// Inserted and Updated count accumulator rows created and merged.
	Inserted int
	Updated  int
	// Decayed counts rows not refreshed by the pass.
	Decayed int
	// Save describes the committed registry.
	Save registry.SaveResult
}

// Aggregate runs one merge pass of sources over the persisted registry and
// commits the result. A baseline below the trusted floor returns ErrAborted
// before anything is written.
func (n *Nexus) Aggregate(ctx context.Context, sources ...Source) (AggregateResult, error) {
	if n.closed.Load() {
		return AggregateResult{}, ErrClosed
	}
	res, err := n.aggregate(ctx, sources)
	return res, translateError(err)
}

func (n *Nexus) aggregate(ctx context.Context, sources []Source) (AggregateResult, error) {
	var res AggregateResult
	log := n.opts.logger
	work := n.workDir()
	deltaDir := filepath.Join(work, "delta")

	acc, err := n.openAccumulator(filepath.Join(work, "accum"))
	if err != nil {
		return res, err
	}
	// Leftovers of an interrupted pass.
	if err := delta.Discard(deltaDir); err != nil {
		_ = acc.Close()
		return res, err
	}
	defer func() {
		if err := acc.Discard(); err != nil {
			log.Warn("accumulator discard failed", "error", err)
		}
		if err := delta.Discard(deltaDir); err != nil {
			log.Warn("delta discard failed", "error", err)
		}
	}()

	// 1. Baseline: shard index and accumulator in one pass.
	start := time.Now()
	index := delta.Index{}
	err = n.registry.Scan(ctx, func(sh *model.Shard) error {
		for _, e := range sh.Entities {
			index.Add(e.ID, sh.Index)
		}
		c, err := acc.HydrateShard(ctx, sh)
		res.Baseline += c
		return err
	})
	n.opts.metrics.OnLoad(time.Since(start), res.Baseline, err)
	log.LogLoad(ctx, res.Baseline, time.Since(start), err)
	if err != nil {
		return res, fmt.Errorf("nexus: baseline: %w", err)
	}

	// 2. Route updates to per-shard delta files; spool inserts.
	if err := os.MkdirAll(deltaDir, 0o755); err != nil {
		return res, fmt.Errorf("nexus: create delta dir: %w", err)
	}
	spool, err := newSpool(filepath.Join(deltaDir, insertsName), n)
	if err != nil {
		return res, err
	}
	aligner, err := delta.NewAligner(deltaDir, index,
		delta.WithCodec(n.opts.codec),
		delta.WithMissHandler(spool.write),
		delta.WithLogger(log.Logger),
	)
	if err != nil {
		_ = spool.close()
		return res, err
	}
	stats, err := aligner.Align(ctx, sources...)
	err = errors.Join(err, aligner.Close(), spool.close())
	if err != nil {
		return res, err
	}
	res.Routed, res.Inserts, res.Invalid = stats.Routed, stats.Missed, stats.Invalid

	// 3. Merge deltas shard by shard, then inserts, then decay.
	start = time.Now()
	err = n.merge(ctx, acc, deltaDir, &res)
	n.opts.metrics.OnUpsert(time.Since(start), res.Inserted, res.Updated, res.Decayed, err)
	log.LogUpsert(ctx, res.Inserted, res.Updated, res.Decayed, err)
	if err != nil {
		return res, err
	}

	// 4. Export in score order and commit.
	start = time.Now()
	res.Save, err = n.export(ctx, acc)
	n.opts.metrics.OnSave(time.Since(start), res.Save.Count, err)
	log.LogSave(ctx, res.Save.Count, res.Save.Written, res.Save.Skipped, res.Save.Failed, err)
	return res, err
}

// openAccumulator opens an empty accumulator in dir. Rows left by an
// interrupted pass are dropped.
func (n *Nexus) openAccumulator(dir string) (*accumulator.Accumulator, error) {
	opts := []accumulator.Option{
		accumulator.WithDecay(n.cfg.Decay),
		accumulator.WithSlim(n.opts.slim),
		accumulator.WithMerger(merge.New(merge.WithClock(n.opts.now))),
		accumulator.WithCodec(n.opts.codec),
		accumulator.WithLogger(n.opts.logger.Logger),
		accumulator.WithClock(n.opts.now),
	}
	acc, err := accumulator.Open(dir, opts...)
	if err != nil {
		return nil, err
	}
	rows, err := acc.Len()
	if err != nil || rows == 0 {
		if err != nil {
			_ = acc.Close()
		}
		return acc, err
	}
	n.opts.logger.Warn("dropping rows of an interrupted pass", "rows", rows)
	if err := acc.Discard(); err != nil {
		return nil, err
	}
	return accumulator.Open(dir, opts...)
}

func (n *Nexus) merge(ctx context.Context, acc *accumulator.Accumulator, deltaDir string, res *AggregateResult) error {
	b := batcher{ctx: ctx, acc: acc, size: n.opts.batchSize, res: res}

	shards, err := delta.Shards(deltaDir)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if err := delta.Replay(ctx, deltaDir, shard, n.opts.codec, b.add); err != nil {
			return fmt.Errorf("nexus: replay shard %d: %w", shard, err)
		}
		if err := b.flush(); err != nil {
			return err
		}
	}

	f, err := os.Open(filepath.Join(deltaDir, insertsName))
	if err != nil {
		return fmt.Errorf("nexus: open inserts: %w", err)
	}
	defer f.Close()
	for e, err := range delta.Lines(f, n.opts.codec) {
		if err != nil {
			return fmt.Errorf("nexus: read inserts: %w", err)
		}
		if err := b.add(e); err != nil {
			return err
		}
	}
	if err := b.flush(); err != nil {
		return err
	}

	decayed, err := acc.Decay(ctx)
	res.Decayed = decayed
	return err
}

func (n *Nexus) export(ctx context.Context, acc *accumulator.Accumulator) (registry.SaveResult, error) {
	w, err := n.registry.NewWriter(ctx)
	if err != nil {
		return registry.SaveResult{}, err
	}
	if _, err := acc.ExportSorted(ctx, w); err != nil {
		_ = w.Abort()
		return registry.SaveResult{}, fmt.Errorf("nexus: export: %w", err)
	}
	return w.Commit(ctx)
}

// batcher groups replayed updates into accumulator transactions.
type batcher struct {
	ctx   context.Context
	acc   *accumulator.Accumulator
	size  int
	batch []*model.Entity
	res   *AggregateResult
}

func (b *batcher) add(e *model.Entity) error {
	b.batch = append(b.batch, e)
	if len(b.batch) >= b.size {
		return b.flush()
	}
	return nil
}

func (b *batcher) flush() error {
	if len(b.batch) == 0 {
		return nil
	}
	st, err := b.acc.Upsert(b.ctx, b.batch)
	if err != nil {
		return fmt.Errorf("nexus: upsert: %w", err)
	}
	b.res.Inserted += st.Inserted
	b.res.Updated += st.Updated
	clear(b.batch)
	b.batch = b.batch[:0]
	return nil
}

// spool appends insert candidates to a JSON lines file.
type spool struct {
	f   *os.File
	w   *bufio.Writer
	buf []byte
	n   *Nexus
}

func newSpool(path string, n *Nexus) (*spool, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("nexus: create inserts: %w", err)
	}
	return &spool{f: f, w: bufio.NewWriterSize(f, 64<<10), n: n}, nil
}

func (s *spool) write(e *model.Entity) error {
	b, err := codec.AppendLine(s.n.opts.codec, s.buf[:0], e)
	if err != nil {
		s.n.opts.logger.Warn("insert dropped", "id", e.ID, "error", err)
		return nil
	}
	s.buf = b
	_, err = s.w.Write(s.buf)
	return err
}

func (s *spool) close() error {
	return errors.Join(s.w.Flush(), s.f.Close())
}
