package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/gate"
	"github.com/hupe1980/nexus/internal/hash"
	"github.com/hupe1980/nexus/model"
	"golang.org/x/sync/errgroup"
)

// Defaults.
const (
	DefaultShardSize = 25_000
	DefaultFloor     = 85_000
)

type options struct {
	shardSize          int
	floor              int
	forceRemoteRestore bool
	slim               bool
	mirrorConcurrency  int
	compressionLevel   int
	codec              codec.Codec
	logger             *slog.Logger
	now                func() time.Time
	onRemoteWrite      func(name string, skipped bool)
}

// Option configures a Store.
type Option func(*options)

// WithShardSize sets the number of entities per shard.
func WithShardSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shardSize = n
		}
	}
}

// WithFloor sets the minimum entity count a load must reach to be trusted.
// Zero disables the check.
func WithFloor(n int) Option {
	return func(o *options) { o.floor = max(n, 0) }
}

// WithForceRemoteRestore makes loads skip local sources.
func WithForceRemoteRestore(force bool) Option {
	return func(o *options) { o.forceRemoteRestore = force }
}

// WithSlim projects loaded entities to their summary view.
func WithSlim(slim bool) Option {
	return func(o *options) { o.slim = slim }
}

// WithMirrorConcurrency bounds parallel remote writes during a save.
func WithMirrorConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.mirrorConcurrency = n
		}
	}
}

// WithCompressionLevel sets the gzip level for shards and the monolith.
func WithCompressionLevel(level int) Option {
	return func(o *options) { o.compressionLevel = level }
}

// WithCodec sets the entity codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used for save timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRemoteWriteHook is called after every gated remote write.
func WithRemoteWriteHook(fn func(name string, skipped bool)) Option {
	return func(o *options) { o.onRemoteWrite = fn }
}

// Store persists the registry to a local store and, optionally, mirrors it
// to a remote one.
type Store struct {
	local  blobstore.BlobStore
	remote blobstore.BlobStore
	gate   *gate.Gate
	opts   options
}

// New returns a Store over local. remote may be nil to disable the remote
// mirror; loads then only consult local sources.
func New(local, remote blobstore.BlobStore, opts ...Option) *Store {
	o := options{
		shardSize:         DefaultShardSize,
		floor:             DefaultFloor,
		mirrorConcurrency: 1,
		compressionLevel:  defaultCompression,
		codec:             codec.Default,
		logger:            slog.New(slog.DiscardHandler),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{local: local, remote: remote, opts: o}
	if remote != nil {
		gopts := []gate.Option{gate.WithLogger(o.logger)}
		if o.onRemoteWrite != nil {
			gopts = append(gopts, gate.WithResultHook(func(r gate.Result) {
				o.onRemoteWrite(r.Name, r.Skipped)
			}))
		}
		s.gate = gate.New(remote, gopts...)
	}
	return s
}

// ShardSize returns the configured shard size.
func (s *Store) ShardSize() int { return s.opts.shardSize }

// Floor returns the configured trust floor.
func (s *Store) Floor() int { return s.opts.floor }

// Local returns the local store.
func (s *Store) Local() blobstore.BlobStore { return s.local }

// Remote returns the remote store, or nil.
func (s *Store) Remote() blobstore.BlobStore { return s.remote }

// SaveResult describes a committed save.
type SaveResult struct {
	Manifest
	// Written and Skipped count remote writes performed and skipped by the
	// content gate. Failed counts remote writes that errored.
	Written int
	Skipped int
	Failed  int
	// Purged counts stale remote shards deleted.
	Purged int
}

// Save persists entities in slice order.
func (s *Store) Save(ctx context.Context, entities []*model.Entity) (SaveResult, error) {
	w, err := s.NewWriter(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	for _, e := range entities {
		if err := w.Write(e); err != nil {
			_ = w.Abort()
			return SaveResult{}, err
		}
	}
	return w.Commit(ctx)
}

// ReadManifest returns the last committed local manifest.
func (s *Store) ReadManifest(ctx context.Context) (Manifest, error) {
	return readManifest(ctx, s.local, s.opts.codec)
}

func readManifest(ctx context.Context, st blobstore.BlobStore, c codec.Codec) (Manifest, error) {
	var m Manifest
	data, err := blobstore.ReadAll(ctx, st, ManifestName)
	if err != nil {
		return m, err
	}
	if err := c.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("registry: decode manifest: %w", err)
	}
	return m, nil
}

// purgeLocal removes local shard files that the committed save did not
// write: indices at or past shardCount and legacy uncompressed duplicates.
func (s *Store) purgeLocal(ctx context.Context, shardCount int) error {
	names, err := s.local.List(ctx, ShardPrefix)
	if err != nil {
		return fmt.Errorf("registry: list local shards: %w", err)
	}
	var stale []string
	for _, name := range names {
		i, gz, ok := ParseShardName(name)
		if !ok {
			continue
		}
		if i >= shardCount || !gz {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.local.Delete(ctx, stale...); err != nil {
		return fmt.Errorf("registry: purge local shards: %w", err)
	}
	return nil
}

// mirror copies every committed file to the remote store through the
// content gate. Failures are logged and counted, never returned.
func (s *Store) mirror(ctx context.Context, m Manifest, manifest []byte, res *SaveResult) {
	names := make([]string, 0, len(m.Digests))
	for name := range m.Digests {
		names = append(names, name)
	}
	sort.Strings(names)

	type outcome struct {
		skipped bool
		err     error
	}
	outcomes := make([]outcome, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.mirrorConcurrency)
	for i, name := range names {
		g.Go(func() error {
			r, err := s.gate.Mirror(gctx, s.local, name, name, m.Digests[name])
			outcomes[i] = outcome{skipped: r.Skipped, err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := false
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			failed = true
			res.Failed++
			s.opts.logger.Warn("registry: remote backup failed", "name", names[i], "error", o.err)
		case o.skipped:
			res.Skipped++
		default:
			res.Written++
		}
	}

	// The remote manifest is only replaced when every file it names made it.
	if failed {
		s.opts.logger.Warn("registry: remote manifest not updated after failed writes")
		return
	}
	r, err := s.gate.PutBytes(ctx, ManifestName, manifest, manifestDigest(m))
	switch {
	case err != nil:
		res.Failed++
		s.opts.logger.Warn("registry: remote manifest write failed", "error", err)
	case r.Skipped:
		res.Skipped++
	default:
		res.Written++
	}
}

// PurgeStaleShards deletes remote shards whose index is at or past
// shardCount. It returns the number of objects deleted.
func (s *Store) PurgeStaleShards(ctx context.Context, shardCount int) (int, error) {
	if s.remote == nil {
		return 0, nil
	}
	names, err := s.remote.List(ctx, ShardPrefix)
	if err != nil {
		return 0, fmt.Errorf("registry: list remote shards: %w", err)
	}
	var stale []string
	for _, name := range names {
		if i, _, ok := ParseShardName(name); ok && i >= shardCount {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.remote.Delete(ctx, stale...); err != nil {
		return 0, fmt.Errorf("registry: delete remote shards: %w", err)
	}
	s.opts.logger.Info("registry: purged stale remote shards", "count", len(stale))
	return len(stale), nil
}

// manifestDigest identifies a manifest by its content, ignoring the save
// timestamp.
func manifestDigest(m Manifest) string {
	names := make([]string, 0, len(m.Digests))
	for name := range m.Digests {
		names = append(names, name)
	}
	sort.Strings(names)

	d := hash.NewDigester()
	_, _ = fmt.Fprintf(d, "%d %d %d\n", m.Count, m.ShardCount, m.ShardSize)
	for _, name := range names {
		_, _ = fmt.Fprintf(d, "%s %s\n", name, m.Digests[name])
	}
	return d.Sum()
}
