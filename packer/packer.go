package packer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/hash"
	"github.com/hupe1980/nexus/model"
	"github.com/klauspost/compress/zstd"
)

type options struct {
	bundleThreshold int
	maxShardBytes   int64
	maxShards       int
	maxIndexBytes   int64
	fts             string
	codec           codec.Codec
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures a Packer.
type Option func(*options)

// WithBundleThreshold sets the serialized bundle size above which a bundle
// goes to a shard file instead of the index row.
func WithBundleThreshold(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.bundleThreshold = n
		}
	}
}

// WithMaxShardBytes sets the size at which a shard file is rolled.
func WithMaxShardBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxShardBytes = n
		}
	}
}

// WithMaxShards caps the number of shard files.
func WithMaxShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxShards = n
		}
	}
}

// WithMaxIndexBytes rejects a finished index larger than n bytes. Zero
// disables the guard.
func WithMaxIndexBytes(n int64) Option {
	return func(o *options) { o.maxIndexBytes = max(n, 0) }
}

// WithFTS5 builds the search table with FTS5. The binary must be built with
// the sqlite_fts5 tag.
func WithFTS5() Option {
	return func(o *options) { o.fts = FTS5 }
}

// WithCodec sets the bundle and manifest codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source for the manifest timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		bundleThreshold: DefaultBundleThreshold,
		maxShardBytes:   DefaultMaxShardBytes,
		maxShards:       DefaultMaxShards,
		fts:             FTS4,
		codec:           codec.Default,
		logger:          slog.New(slog.DiscardHandler),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const insertSQL = `INSERT INTO entities
	(id, slug, name, type, author, summary, score, percentile, trend_7d, stars, downloads, last_modified, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

const locateSQL = `UPDATE entities
	SET bundle_shard = ?, bundle_offset = ?, bundle_size = ?, bundle_crc = ?
	WHERE rowid = ?`

// Packer builds one artifact. Entities are added in one transaction;
// Finish seals the artifact and writes the manifest.
type Packer struct {
	dir  string
	opts options

	db     *sql.DB
	tx     *sql.Tx
	insert *sql.Stmt
	search *sql.Stmt
	locate *sql.Stmt

	enc    *zstd.Encoder
	shards *shardWriter

	entities   int
	inline     int
	duplicates int
	closed     bool
}

// New prepares an artifact in dir. Artifact files left by a previous build
// are removed.
func New(ctx context.Context, dir string, opts ...Option) (*Packer, error) {
	o := buildOptions(opts)

	if err := clean(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, BundleDir), 0o755); err != nil {
		return nil, fmt.Errorf("packer: create dir: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("packer: zstd: %w", err)
	}

	db, err := openDB(filepath.Join(dir, IndexName), false)
	if err != nil {
		enc.Close()
		return nil, err
	}

	p := &Packer{
		dir:    dir,
		opts:   o,
		db:     db,
		enc:    enc,
		shards: newShardWriter(dir, o.maxShardBytes, o.maxShards),
	}
	if err := p.begin(ctx); err != nil {
		p.Abort()
		return nil, err
	}
	return p, nil
}

func (p *Packer) begin(ctx context.Context) error {
	if err := initDB(ctx, p.db, p.opts.fts); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("packer: begin: %w", err)
	}
	p.tx = tx

	if p.insert, err = tx.PrepareContext(ctx, insertSQL); err != nil {
		return fmt.Errorf("packer: prepare insert: %w", err)
	}
	if p.search, err = tx.PrepareContext(ctx, "INSERT INTO search(rowid, name, summary, author) VALUES (?, ?, ?, ?)"); err != nil {
		return fmt.Errorf("packer: prepare search: %w", err)
	}
	if p.locate, err = tx.PrepareContext(ctx, locateSQL); err != nil {
		return fmt.Errorf("packer: prepare locate: %w", err)
	}
	return nil
}

// Add writes e to the index. A repeated id keeps the first row.
func (p *Packer) Add(ctx context.Context, e *model.Entity) error {
	if p.closed {
		return ErrClosed
	}
	if e == nil || e.ID == "" {
		return errors.New("packer: entity without id")
	}

	bundle, hasBundle := BundleOf(e)
	var raw []byte
	if hasBundle {
		var err error
		if raw, err = p.opts.codec.Marshal(bundle); err != nil {
			return fmt.Errorf("packer: encode bundle %s: %w", e.ID, err)
		}
	}
	spill := hasBundle && len(raw) > p.opts.bundleThreshold

	var payload []byte
	if hasBundle && !spill {
		payload = raw
	}
	trend, err := encodeTrend(p.opts.codec, e.Trend7D)
	if err != nil {
		return fmt.Errorf("packer: encode trend %s: %w", e.ID, err)
	}
	summary := model.Summary(e)

	res, err := p.insert.ExecContext(ctx,
		e.ID, e.Slug, e.Name, string(e.Type), e.Author, summary,
		model.ClampScore(e.Score), e.Percentile, trend, e.Stars, e.Downloads,
		unixMilli(e.UpdatedAt), payload,
	)
	if err != nil {
		return fmt.Errorf("packer: insert %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		p.duplicates++
		p.opts.logger.Debug("packer: duplicate id skipped", "id", e.ID)
		return nil
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("packer: rowid %s: %w", e.ID, err)
	}
	if _, err := p.search.ExecContext(ctx, rowid, e.Name, summary, e.Author); err != nil {
		return fmt.Errorf("packer: index %s: %w", e.ID, err)
	}

	if spill {
		loc, err := p.shards.append(p.enc.EncodeAll(raw, nil))
		if err != nil {
			return err
		}
		if _, err := p.locate.ExecContext(ctx, loc.Shard, loc.Offset, loc.Size, int64(loc.CRC), rowid); err != nil {
			return fmt.Errorf("packer: locate %s: %w", e.ID, err)
		}
	} else if hasBundle {
		p.inline++
	}
	p.entities++
	return nil
}

// Finish seals the shard files, records their digests in the index rows,
// compacts and checks the index, then writes the manifest.
func (p *Packer) Finish(ctx context.Context) (Manifest, error) {
	if p.closed {
		return Manifest{}, ErrClosed
	}
	m, err := p.finish(ctx)
	if err != nil {
		p.Abort()
		return Manifest{}, err
	}
	p.opts.logger.Info("packer: artifact written",
		"dir", p.dir, "entities", m.Entities, "bundles", m.Bundles,
		"inline", m.Inline, "shards", len(m.Shards), "duplicates", p.duplicates)
	return m, nil
}

func (p *Packer) finish(ctx context.Context) (Manifest, error) {
	if err := p.shards.closeCurrent(); err != nil {
		return Manifest{}, err
	}

	names := make([]string, 0, len(p.shards.digests))
	for name := range p.shards.digests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := p.tx.ExecContext(ctx,
			"UPDATE entities SET bundle_digest = ? WHERE bundle_shard = ?",
			p.shards.digests[name], name); err != nil {
			return Manifest{}, fmt.Errorf("packer: record digest %s: %w", name, err)
		}
	}

	if _, err := p.tx.ExecContext(ctx, "INSERT INTO search(search) VALUES('optimize')"); err != nil {
		return Manifest{}, fmt.Errorf("packer: optimize search: %w", err)
	}
	for _, st := range []*sql.Stmt{p.insert, p.search, p.locate} {
		st.Close()
	}
	if err := p.tx.Commit(); err != nil {
		return Manifest{}, fmt.Errorf("packer: commit: %w", err)
	}
	p.tx = nil

	if err := integrityCheck(ctx, p.db); err != nil {
		return Manifest{}, err
	}
	if _, err := p.db.ExecContext(ctx, "VACUUM"); err != nil {
		return Manifest{}, fmt.Errorf("packer: vacuum: %w", err)
	}
	if err := p.db.Close(); err != nil {
		return Manifest{}, fmt.Errorf("packer: close index: %w", err)
	}
	p.db = nil
	p.enc.Close()
	p.closed = true

	indexPath := filepath.Join(p.dir, IndexName)
	if p.opts.maxIndexBytes > 0 {
		fi, err := os.Stat(indexPath)
		if err != nil {
			return Manifest{}, fmt.Errorf("packer: stat index: %w", err)
		}
		if fi.Size() > p.opts.maxIndexBytes {
			return Manifest{}, fmt.Errorf("%w: %d bytes, limit %d", ErrIndexTooLarge, fi.Size(), p.opts.maxIndexBytes)
		}
	}
	indexDigest, err := digestFile(indexPath)
	if err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		Version:   ManifestVersion,
		CreatedAt: p.opts.now().UTC(),
		Entities:  p.entities,
		Bundles:   p.shards.bundles,
		Inline:    p.inline,
		FTS:       p.opts.fts,
		Index:     indexDigest,
		Shards:    p.shards.digests,
	}
	if err := writeManifest(p.dir, p.opts.codec, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Abort discards the artifact under construction.
func (p *Packer) Abort() {
	p.closed = true
	if p.tx != nil {
		_ = p.tx.Rollback()
		p.tx = nil
	}
	if p.db != nil {
		_ = p.db.Close()
		p.db = nil
	}
	p.shards.abort()
	p.enc.Close()
	if err := clean(p.dir); err != nil {
		p.opts.logger.Warn("packer: cleanup failed", "dir", p.dir, "error", err)
	}
}

// Scanner streams a registry shard by shard.
type Scanner interface {
	Scan(ctx context.Context, fn func(*model.Shard) error) error
}

// Pack builds an artifact in dir from every entity s yields.
func Pack(ctx context.Context, dir string, s Scanner, opts ...Option) (Manifest, error) {
	p, err := New(ctx, dir, opts...)
	if err != nil {
		return Manifest{}, err
	}
	err = s.Scan(ctx, func(sh *model.Shard) error {
		for _, e := range sh.Entities {
			if err := p.Add(ctx, e); err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	if err != nil {
		p.Abort()
		return Manifest{}, fmt.Errorf("packer: pack: %w", err)
	}
	return p.Finish(ctx)
}

// ReadManifest reads the manifest of the artifact in dir.
func ReadManifest(dir string, c codec.Codec) (Manifest, error) {
	if c == nil {
		c = codec.Default
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return Manifest{}, fmt.Errorf("packer: read manifest: %w", err)
	}
	var m Manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", ErrIntegrity, err)
	}
	return m, nil
}

func writeManifest(dir string, c codec.Codec, m Manifest) error {
	data, err := c.Marshal(m)
	if err != nil {
		return fmt.Errorf("packer: encode manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("packer: write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("packer: write manifest: %w", err)
	}
	return nil
}

// clean removes the files an artifact consists of, leaving anything else in
// dir alone.
func clean(dir string) error {
	for _, name := range []string{ManifestName, IndexName, BundleDir} {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("packer: clean %s: %w", name, err)
		}
	}
	return nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("packer: %w", err)
	}
	defer f.Close()
	d, _, err := hash.DigestReader(f)
	if err != nil {
		return "", fmt.Errorf("packer: hash %s: %w", filepath.Base(path), err)
	}
	return d, nil
}

func encodeTrend(c codec.Codec, trend []float64) (string, error) {
	if len(trend) == 0 {
		return "", nil
	}
	b, err := c.Marshal(trend)
	return string(b), err
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
