package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/internal/hash"
	"github.com/hupe1980/nexus/model"
	"github.com/klauspost/compress/gzip"
)

const (
	defaultCompression = gzip.DefaultCompression
	contentTypeGzip    = "application/gzip"
)

// Writer streams a registry save. Every entity goes to the current shard
// and to the monolith at once, so the caller never needs the full list.
// Nothing becomes visible until Commit; Abort discards the save and leaves
// the previous one untouched.
type Writer struct {
	s     *Store
	ctx   context.Context
	ts    time.Time
	mono  *stream
	shard *stream
	done  []*stream
	total int

	closed bool
}

// NewWriter starts a save.
func (s *Store) NewWriter(ctx context.Context) (*Writer, error) {
	w := &Writer{s: s, ctx: ctx, ts: s.opts.now().UTC()}
	mono, err := s.openStream(ctx, MonolithName, -1)
	if err != nil {
		return nil, err
	}
	w.mono = mono
	return w, nil
}

// Write appends e to the save. Scores are clamped on the way out.
func (w *Writer) Write(e *model.Entity) error {
	if w.closed {
		return ErrClosed
	}
	c := *e
	c.Score = model.ClampScore(c.Score)
	c.QualityScore = model.ClampScore(c.QualityScore)
	line, err := w.s.opts.codec.Marshal(&c)
	if err != nil {
		return fmt.Errorf("registry: encode %s: %w", e.ID, err)
	}

	if w.shard == nil {
		// Shard files are created lazily so an empty save writes none.
		st, err := w.s.openStream(w.ctx, ShardName(len(w.done)), len(w.done))
		if err != nil {
			return err
		}
		w.shard = st
	}
	if err := w.shard.write(line); err != nil {
		return err
	}
	if err := w.mono.write(line); err != nil {
		return err
	}
	w.total++

	if w.shard.count == w.s.opts.shardSize {
		if err := w.shard.finish(w.ts); err != nil {
			return err
		}
		w.done = append(w.done, w.shard)
		w.shard = nil
	}
	return nil
}

// Count returns the number of entities written so far.
func (w *Writer) Count() int { return w.total }

// Commit makes the save visible locally, writes the manifest, removes stale
// local shards and, when a remote store is configured, mirrors the save and
// purges stale remote shards. Remote failures are logged, not returned.
func (w *Writer) Commit(ctx context.Context) (SaveResult, error) {
	if w.closed {
		return SaveResult{}, ErrClosed
	}
	w.closed = true

	if w.shard != nil {
		if err := w.shard.finish(w.ts); err != nil {
			w.abortAll()
			return SaveResult{}, err
		}
		w.done = append(w.done, w.shard)
		w.shard = nil
	}
	if err := w.mono.finish(w.ts); err != nil {
		w.abortAll()
		return SaveResult{}, err
	}

	m := Manifest{
		Count:       w.total,
		ShardCount:  len(w.done),
		ShardSize:   w.s.opts.shardSize,
		LastUpdated: w.ts,
		Digests:     make(map[string]string, len(w.done)+1),
	}
	// Every file is staged before any is renamed into place, so a failed
	// flush leaves the previous save whole.
	files := append(slices.Clone(w.done), w.mono)
	for _, st := range files {
		sb, ok := st.blob.(blobstore.Stager)
		if !ok {
			continue
		}
		if err := sb.Stage(); err != nil {
			for _, f := range files {
				_ = f.blob.Abort()
			}
			return SaveResult{}, fmt.Errorf("registry: stage %s: %w", st.name, err)
		}
	}
	for i, st := range files {
		if err := st.blob.Close(); err != nil {
			for _, rest := range files[i+1:] {
				_ = rest.blob.Abort()
			}
			return SaveResult{}, fmt.Errorf("registry: commit %s: %w", st.name, err)
		}
		m.Digests[st.name] = st.digest.Sum()
	}

	manifest, err := w.s.opts.codec.Marshal(m)
	if err != nil {
		return SaveResult{}, fmt.Errorf("registry: encode manifest: %w", err)
	}
	if err := w.s.local.Put(ctx, ManifestName, manifest, blobstore.WithContentType("application/json")); err != nil {
		return SaveResult{}, fmt.Errorf("registry: write manifest: %w", err)
	}

	log := w.s.opts.logger
	if err := w.s.purgeLocal(ctx, m.ShardCount); err != nil {
		log.Warn("registry: local purge failed", "error", err)
	}
	log.Info("registry: saved", "count", m.Count, "shards", m.ShardCount)

	res := SaveResult{Manifest: m}
	if w.s.gate == nil {
		return res, nil
	}
	w.s.mirror(ctx, m, manifest, &res)
	purged, err := w.s.PurgeStaleShards(ctx, m.ShardCount)
	if err != nil {
		log.Warn("registry: stale shard purge failed", "error", err)
	}
	res.Purged = purged
	return res, nil
}

// Abort discards the save.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.abortAll()
}

func (w *Writer) abortAll() error {
	var errs []error
	for _, st := range w.done {
		errs = append(errs, st.abort())
	}
	if w.shard != nil {
		errs = append(errs, w.shard.abort())
	}
	errs = append(errs, w.mono.abort())
	return errors.Join(errs...)
}

// stream is one gzip-compressed registry file being written.
type stream struct {
	name   string
	index  int
	blob   blobstore.WritableBlob
	gz     *gzip.Writer
	digest *hash.Digester
	count  int
}

func (s *Store) openStream(ctx context.Context, name string, index int) (*stream, error) {
	blob, err := s.local.Create(ctx, name, blobstore.WithContentType(contentTypeGzip))
	if err != nil {
		return nil, fmt.Errorf("registry: create %s: %w", name, err)
	}
	gz, err := gzip.NewWriterLevel(blob, s.opts.compressionLevel)
	if err != nil {
		_ = blob.Abort()
		return nil, fmt.Errorf("registry: gzip %s: %w", name, err)
	}
	st := &stream{name: name, index: index, blob: blob, gz: gz, digest: hash.NewDigester()}
	header := `{"entities":[`
	if index >= 0 {
		header = `{"index":` + strconv.Itoa(index) + `,"entities":[`
	}
	if _, err := gz.Write([]byte(header)); err != nil {
		_ = st.abort()
		return nil, fmt.Errorf("registry: write %s: %w", name, err)
	}
	return st, nil
}

func (st *stream) write(line []byte) error {
	if st.count > 0 {
		if _, err := st.gz.Write([]byte{','}); err != nil {
			return fmt.Errorf("registry: write %s: %w", st.name, err)
		}
	}
	if _, err := st.gz.Write(line); err != nil {
		return fmt.Errorf("registry: write %s: %w", st.name, err)
	}
	_, _ = st.digest.Write(line)
	_, _ = st.digest.Write([]byte{'\n'})
	st.count++
	return nil
}

// finish writes the trailer and flushes the compressor. The blob stays
// open until Commit.
func (st *stream) finish(ts time.Time) error {
	trailer := `],"count":` + strconv.Itoa(st.count) + `,"lastUpdated":"` + ts.Format(time.RFC3339Nano) + `"}`
	if _, err := st.gz.Write([]byte(trailer)); err != nil {
		return fmt.Errorf("registry: write %s: %w", st.name, err)
	}
	if err := st.gz.Close(); err != nil {
		return fmt.Errorf("registry: flush %s: %w", st.name, err)
	}
	return nil
}

func (st *stream) abort() error {
	return st.blob.Abort()
}
