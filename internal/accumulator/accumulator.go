// Package accumulator is the on-disk scratch store of an aggregation pass.
//
// It holds the full registry at rest in a bbolt file so the merge pass only
// keeps one batch in memory. Rows are keyed by canonical id; a second bucket
// keys every row by inverted score so ExportSorted streams rows in score
// descending order without sorting in memory.
//
// A directory is owned by one run at a time: Open takes an exclusive lock
// file and fails with ErrLocked when another run holds it.
package accumulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gofrs/flock"
	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/merge"
	"github.com/hupe1980/nexus/model"
	bolt "go.etcd.io/bbolt"
)

// File names inside the accumulator directory.
const (
	DBName   = "accum.db"
	LockName = "accum.lock"
)

// DefaultDecay is the score multiplier for rows not refreshed by a pass.
const DefaultDecay = 0.95

const decayChunk = 10_000

var (
	bucketRows    = []byte("rows")
	bucketByScore = []byte("by_score")
	indexValue    = []byte{}
)

var (
	// ErrLocked is returned when another run owns the directory.
	ErrLocked = errors.New("accumulator: directory locked by another run")
	// ErrClosed is returned after Close or Discard.
	ErrClosed = errors.New("accumulator: closed")
)

// Sink receives exported entities, in order.
type Sink interface {
	Write(*model.Entity) error
}

// Scanner streams a baseline registry one shard at a time.
type Scanner interface {
	Scan(ctx context.Context, fn func(*model.Shard) error) error
}

// UpsertStats summarizes one Upsert.
type UpsertStats struct {
	Inserted int
	Updated  int
}

type options struct {
	decay  float64
	slim   bool
	merger *merge.Merger
	codec  codec.Codec
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Accumulator.
type Option func(*options)

// WithDecay sets the decay multiplier for untouched rows.
func WithDecay(f float64) Option { return func(o *options) { o.decay = f } }

// WithSlim merges summary fields only.
func WithSlim(slim bool) Option { return func(o *options) { o.slim = slim } }

// WithMerger sets the merge policy.
func WithMerger(m *merge.Merger) Option { return func(o *options) { o.merger = m } }

// WithCodec sets the row payload codec.
func WithCodec(c codec.Codec) Option { return func(o *options) { o.codec = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock sets the clock used for last-seen stamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Accumulator is an embedded row store. It is not safe for concurrent use.
type Accumulator struct {
	dir     string
	db      *bolt.DB
	lock    *flock.Flock
	opts    options
	touched *roaring.Bitmap
	closed  bool
}

// Open opens or creates the store in dir and takes the directory lock.
func Open(dir string, opts ...Option) (*Accumulator, error) {
	o := options{
		decay:  DefaultDecay,
		merger: merge.New(),
		codec:  codec.Default,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.decay <= 0 || o.decay > 1 {
		return nil, fmt.Errorf("accumulator: decay %v outside (0,1]", o.decay)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("accumulator: create dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, LockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("accumulator: lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	db, err := bolt.Open(filepath.Join(dir, DBName), 0o600, &bolt.Options{
		Timeout: time.Second,
		// Scratch data: losing it on a crash only costs a rerun.
		NoSync:         true,
		NoFreelistSync: true,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("accumulator: open db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRows, bucketByScore} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("accumulator: init buckets: %w", err)
	}

	return &Accumulator{dir: dir, db: db, lock: lock, opts: o, touched: roaring.New()}, nil
}

// Dir returns the store directory.
func (a *Accumulator) Dir() string { return a.dir }

// Len returns the number of rows.
func (a *Accumulator) Len() (int, error) {
	if a.closed {
		return 0, ErrClosed
	}
	var n int
	err := a.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRows).Stats().KeyN
		return nil
	})
	return n, err
}

// Hydrate loads the baseline registry, one transaction per shard.
func (a *Accumulator) Hydrate(ctx context.Context, s Scanner) (int, error) {
	total := 0
	err := s.Scan(ctx, func(sh *model.Shard) error {
		n, err := a.HydrateShard(ctx, sh)
		total += n
		return err
	})
	return total, err
}

// HydrateShard loads one baseline shard as is. Rows are not marked as
// touched, so a later Decay ages them unless an update refreshes them.
func (a *Accumulator) HydrateShard(ctx context.Context, sh *model.Shard) (int, error) {
	if a.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := a.db.Update(func(tx *bolt.Tx) error {
		rows, idx := tx.Bucket(bucketRows), tx.Bucket(bucketByScore)
		for _, e := range sh.Entities {
			if e.ID == "" {
				continue
			}
			existing, h, err := a.get(rows, e.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				// Duplicate id in the baseline: the second copy is folded in.
				merged := a.merge(existing, e)
				merged.Status, merged.LastSeen = h.status, h.lastSeen
				if err := a.put(rows, idx, merged, h.seq, &h); err != nil {
					return err
				}
				continue
			}
			seq, err := nextSeq(rows)
			if err != nil {
				return err
			}
			if err := a.put(rows, idx, e, seq, nil); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("accumulator: hydrate shard %d: %w", sh.Index, err)
	}
	return n, nil
}

// Upsert merges batch into the store in one transaction. Every row it
// touches becomes active, is stamped as seen now and is remembered for the
// next Decay.
func (a *Accumulator) Upsert(ctx context.Context, batch []*model.Entity) (UpsertStats, error) {
	var stats UpsertStats
	if a.closed {
		return stats, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	now := a.opts.now().UTC()
	var touched []uint32

	err := a.db.Update(func(tx *bolt.Tx) error {
		rows, idx := tx.Bucket(bucketRows), tx.Bucket(bucketByScore)
		for _, e := range batch {
			if e == nil || e.ID == "" {
				continue
			}
			existing, h, err := a.get(rows, e.ID)
			if err != nil {
				return err
			}
			var (
				row  *model.Entity
				seq  uint32
				prev *header
			)
			if existing != nil {
				row, seq, prev = a.merge(existing, e), h.seq, &h
				stats.Updated++
			} else {
				if seq, err = nextSeq(rows); err != nil {
					return err
				}
				row = e.Clone()
				stats.Inserted++
			}
			row.Status = model.StatusActive
			row.LastSeen = now
			if err := a.put(rows, idx, row, seq, prev); err != nil {
				return err
			}
			touched = append(touched, seq)
		}
		return nil
	})
	if err != nil {
		return UpsertStats{}, fmt.Errorf("accumulator: upsert: %w", err)
	}
	a.touched.AddMany(touched)
	return stats, nil
}

// UpsertBatch is Upsert followed by Decay: one self-contained batch.
func (a *Accumulator) UpsertBatch(ctx context.Context, batch []*model.Entity) (UpsertStats, int, error) {
	stats, err := a.Upsert(ctx, batch)
	if err != nil {
		return stats, 0, err
	}
	decayed, err := a.Decay(ctx)
	return stats, decayed, err
}

// Decay multiplies the score of every row not touched since the previous
// Decay by the decay factor and marks it archived. It returns the number of
// rows decayed and resets the touched set.
func (a *Accumulator) Decay(ctx context.Context) (int, error) {
	if a.closed {
		return 0, ErrClosed
	}
	decayed := 0
	var next []byte
	for {
		if err := ctx.Err(); err != nil {
			return decayed, err
		}
		done := false
		err := a.db.Update(func(tx *bolt.Tx) error {
			rows, idx := tx.Bucket(bucketRows), tx.Bucket(bucketByScore)
			type change struct {
				id  []byte
				val []byte
				old float64
			}
			var changes []change

			c := rows.Cursor()
			k, v := c.First()
			if next != nil {
				k, v = c.Seek(next)
			}
			for ; k != nil && len(changes) < decayChunk; k, v = c.Next() {
				h, err := decodeHeader(v)
				if err != nil {
					return fmt.Errorf("%w: %s", err, k)
				}
				if a.touched.Contains(h.seq) {
					continue
				}
				old := h.score
				h.score = model.ClampScore(h.score * a.opts.decay)
				h.status = model.StatusArchived
				val := bytes.Clone(v)
				putHeader(val, h)
				changes = append(changes, change{id: bytes.Clone(k), val: val, old: old})
			}
			if k == nil {
				done = true
			} else {
				next = bytes.Clone(k)
			}

			for _, ch := range changes {
				h, _ := decodeHeader(ch.val)
				if err := idx.Delete(scoreKey(ch.old, string(ch.id))); err != nil {
					return err
				}
				if err := idx.Put(scoreKey(h.score, string(ch.id)), indexValue); err != nil {
					return err
				}
				if err := rows.Put(ch.id, ch.val); err != nil {
					return err
				}
			}
			decayed += len(changes)
			return nil
		})
		if err != nil {
			return decayed, fmt.Errorf("accumulator: decay: %w", err)
		}
		if done {
			break
		}
	}
	a.touched.Clear()
	a.opts.logger.Debug("accumulator: decayed untouched rows", "rows", decayed, "factor", a.opts.decay)
	return decayed, nil
}

// Get returns the row for id, or nil.
func (a *Accumulator) Get(id string) (*model.Entity, error) {
	if a.closed {
		return nil, ErrClosed
	}
	var e *model.Entity
	err := a.db.View(func(tx *bolt.Tx) error {
		var err error
		e, _, err = a.get(tx.Bucket(bucketRows), id)
		return err
	})
	return e, err
}

// ExportSorted streams every row to sink in score descending order, ties
// broken by id. The sink sees entities with the stored score, status and
// last-seen stamp.
func (a *Accumulator) ExportSorted(ctx context.Context, sink Sink) (int, error) {
	if a.closed {
		return 0, ErrClosed
	}
	n := 0
	err := a.db.View(func(tx *bolt.Tx) error {
		rows := tx.Bucket(bucketRows)
		c := tx.Bucket(bucketByScore).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if n%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			id := string(k[8:])
			e, _, err := a.get(rows, id)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("%w: index entry without row %s", errCorruptRow, id)
			}
			if err := sink.Write(e); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("accumulator: export: %w", err)
	}
	return n, nil
}

// Close releases the database and the directory lock, keeping the files.
func (a *Accumulator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return errors.Join(a.db.Close(), a.lock.Unlock())
}

// Discard closes the store and removes its directory.
func (a *Accumulator) Discard() error {
	if err := a.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("accumulator: discard: %w", err)
	}
	return nil
}

func (a *Accumulator) merge(existing, incoming *model.Entity) *model.Entity {
	if a.opts.slim {
		return a.opts.merger.MergeSlim(existing, incoming)
	}
	return a.opts.merger.Merge(existing, incoming)
}

// get decodes the row for id with header fields applied. It returns a nil
// entity when the row does not exist.
func (a *Accumulator) get(rows *bolt.Bucket, id string) (*model.Entity, header, error) {
	v := rows.Get([]byte(id))
	if v == nil {
		return nil, header{}, nil
	}
	h, err := decodeHeader(v)
	if err != nil {
		return nil, h, err
	}
	payload, err := decodePayload(v)
	if err != nil {
		return nil, h, fmt.Errorf("%w: %s", err, id)
	}
	var e model.Entity
	if err := a.opts.codec.Unmarshal(payload, &e); err != nil {
		return nil, h, fmt.Errorf("accumulator: decode %s: %w", id, err)
	}
	e.Score, e.Status, e.LastSeen = h.score, h.status, h.lastSeen
	return &e, h, nil
}

// put writes e under seq and keeps the score index in step. prev is the
// header being replaced, or nil for a new row.
func (a *Accumulator) put(rows, idx *bolt.Bucket, e *model.Entity, seq uint32, prev *header) error {
	c := *e
	c.Score = model.ClampScore(c.Score)
	if c.Status == "" {
		c.Status = model.StatusActive
	}
	payload, err := a.opts.codec.Marshal(&c)
	if err != nil {
		return fmt.Errorf("accumulator: encode %s: %w", e.ID, err)
	}
	val, err := encodeRow(header{score: c.Score, status: c.Status, lastSeen: c.LastSeen, seq: seq}, payload)
	if err != nil {
		return fmt.Errorf("accumulator: compress %s: %w", e.ID, err)
	}
	if prev != nil {
		if err := idx.Delete(scoreKey(prev.score, e.ID)); err != nil {
			return err
		}
	}
	if err := rows.Put([]byte(e.ID), val); err != nil {
		return err
	}
	return idx.Put(scoreKey(c.Score, e.ID), indexValue)
}

func nextSeq(rows *bolt.Bucket) (uint32, error) {
	n, err := rows.NextSequence()
	if err != nil {
		return 0, err
	}
	if n > 1<<32-1 {
		return 0, errors.New("accumulator: row sequence exhausted")
	}
	return uint32(n), nil
}
