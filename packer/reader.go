package packer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/hash"
	"github.com/hupe1980/nexus/internal/mmap"
	"github.com/hupe1980/nexus/model"
	"github.com/klauspost/compress/zstd"
)

type readerOptions struct {
	verify bool
	codec  codec.Codec
	logger *slog.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerOptions)

// WithoutVerify opens the artifact without recomputing its digests.
func WithoutVerify() ReaderOption {
	return func(o *readerOptions) { o.verify = false }
}

// WithReaderCodec sets the codec used to decode bundles.
func WithReaderCodec(c codec.Codec) ReaderOption {
	return func(o *readerOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithReaderLogger sets the logger.
func WithReaderLogger(l *slog.Logger) ReaderOption {
	return func(o *readerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Reader serves lookups from a finished artifact. Shard files are mapped on
// first use. A Reader is safe for concurrent use.
type Reader struct {
	dir      string
	opts     readerOptions
	db       *sql.DB
	manifest Manifest
	dec      *zstd.Decoder

	shards *mmap.Set
	closed atomic.Bool
}

// OpenReader opens the artifact in dir. The artifact is verified first
// unless WithoutVerify is given.
func OpenReader(ctx context.Context, dir string, opts ...ReaderOption) (*Reader, error) {
	o := readerOptions{
		verify: true,
		codec:  codec.Default,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.verify {
		if err := Verify(ctx, dir); err != nil {
			return nil, err
		}
	}
	m, err := ReadManifest(dir, o.codec)
	if err != nil {
		return nil, err
	}
	db, err := openDB(filepath.Join(dir, IndexName), true)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("packer: zstd: %w", err)
	}
	return &Reader{
		dir:      dir,
		opts:     o,
		db:       db,
		manifest: m,
		dec:      dec,
		shards:   mmap.NewSet(dir, mmap.AccessRandom),
	}, nil
}

// Manifest returns the artifact manifest.
func (r *Reader) Manifest() Manifest { return r.manifest }

const rowColumns = `e.id, e.slug, e.name, e.type, e.author, e.summary, e.score, e.percentile,
	e.trend_7d, e.stars, e.downloads, e.last_modified,
	e.bundle_shard, e.bundle_offset, e.bundle_size, e.bundle_crc, e.bundle_digest`

// Lookup returns the index row of id.
func (r *Reader) Lookup(ctx context.Context, id string) (*Row, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	row := r.db.QueryRowContext(ctx, "SELECT "+rowColumns+" FROM entities e WHERE e.id = ?", id)
	out, err := r.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("packer: lookup %s: %w", id, err)
	}
	return out, nil
}

// Search runs a full-text query over name, summary and author and returns
// up to limit rows ordered by score.
func (r *Reader) Search(ctx context.Context, query string, limit int) ([]Row, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+rowColumns+` FROM search JOIN entities e ON e.rowid = search.rowid
		WHERE search MATCH ? ORDER BY e.score DESC, e.id LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("packer: search: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("packer: search: %w", err)
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("packer: search: %w", err)
	}
	return out, nil
}

// Bundle returns the secondary payload of id. An entity without one yields
// an empty Bundle. Shard-stored bundles are checked against their CRC32C
// before decoding.
func (r *Reader) Bundle(ctx context.Context, id string) (*Bundle, error) {
	var (
		payload []byte
		shard   sql.NullString
		offset  sql.NullInt64
		size    sql.NullInt64
		crc     sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT payload, bundle_shard, bundle_offset, bundle_size, bundle_crc FROM entities WHERE id = ?", id).
		Scan(&payload, &shard, &offset, &size, &crc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("packer: bundle %s: %w", id, err)
	}

	var raw []byte
	switch {
	case shard.Valid:
		raw, err = r.readShard(shard.String, offset.Int64, size.Int64, uint32(crc.Int64))
		if err != nil {
			return nil, fmt.Errorf("packer: bundle %s: %w", id, err)
		}
	case len(payload) > 0:
		raw = payload
	default:
		return &Bundle{}, nil
	}

	var b Bundle
	if err := r.opts.codec.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: bundle %s: %v", ErrIntegrity, id, err)
	}
	return &b, nil
}

func (r *Reader) readShard(name string, offset, size int64, crc uint32) ([]byte, error) {
	m, err := r.mapping(name)
	if err != nil {
		return nil, err
	}
	data, err := m.Slice(offset, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIntegrity, name, err)
	}
	if err := hash.CheckCRC32C(data, crc); err != nil {
		return nil, fmt.Errorf("%w: %s at %d: %v", ErrIntegrity, name, offset, err)
	}
	out, err := r.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %d: %v", ErrIntegrity, name, offset, err)
	}
	return out, nil
}

func (r *Reader) mapping(name string) (*mmap.Mapping, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if _, ok := r.manifest.Shards[name]; !ok {
		return nil, fmt.Errorf("%w: shard %s not in manifest", ErrIntegrity, name)
	}
	m, err := r.shards.Get(name)
	if errors.Is(err, mmap.ErrClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("packer: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Reader) scanRow(s rowScanner) (*Row, error) {
	var (
		row      Row
		kind     string
		trend    string
		modified int64
		shard    sql.NullString
		offset   sql.NullInt64
		size     sql.NullInt64
		crc      sql.NullInt64
		digest   sql.NullString
	)
	err := s.Scan(&row.ID, &row.Slug, &row.Name, &kind, &row.Author, &row.Summary,
		&row.Score, &row.Percentile, &trend, &row.Stars, &row.Downloads, &modified,
		&shard, &offset, &size, &crc, &digest)
	if err != nil {
		return nil, err
	}
	row.Type = model.Kind(kind)
	if trend != "" {
		if err := r.opts.codec.Unmarshal([]byte(trend), &row.Trend7D); err != nil {
			r.opts.logger.Warn("packer: bad trend column", "id", row.ID, "error", err)
		}
	}
	if modified != 0 {
		row.LastModified = time.UnixMilli(modified).UTC()
	}
	if shard.Valid {
		row.Location = &Location{
			Shard:  shard.String,
			Offset: offset.Int64,
			Size:   size.Int64,
			CRC:    uint32(crc.Int64),
			Digest: digest.String,
		}
	}
	return &row, nil
}

// Close releases the index and every mapped shard.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	err := r.shards.Close()
	r.dec.Close()
	return errors.Join(err, r.db.Close())
}
