package nexus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/blobstore/minio"
	"github.com/hupe1980/nexus/blobstore/s3"
	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/config"
	"github.com/hupe1980/nexus/registry"
	"github.com/hupe1980/nexus/resource"
)

// WorkDir is the scratch directory of a pass, relative to the data dir.
const WorkDir = ".work"

// Nexus owns the persisted registry of one data directory.
type Nexus struct {
	cfg  config.Config
	opts options

	local    *blobstore.LocalStore
	remote   blobstore.BlobStore
	registry *registry.Store

	closed atomic.Bool
}

// Open validates cfg and wires the local and remote stores.
func Open(ctx context.Context, cfg config.Config, optFns ...Option) (*Nexus, error) {
	opts := options{
		codec:     codec.Default,
		logger:    NoopLogger(),
		metrics:   NoopMetricsObserver{},
		now:       time.Now,
		batchSize: DefaultBatchSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("nexus: create data dir: %w", err)
	}

	remote := opts.remote
	if remote == nil && cfg.RemoteEnabled() {
		r, err := openRemote(ctx, cfg.Remote)
		if err != nil {
			return nil, err
		}
		remote = r
	}

	n := &Nexus{
		cfg:    cfg,
		opts:   opts,
		local:  blobstore.NewLocalStore(cfg.DataDir),
		remote: remote,
	}
	n.registry = registry.New(n.local, remote,
		registry.WithShardSize(cfg.ShardSize),
		registry.WithFloor(cfg.RegistryFloor),
		registry.WithForceRemoteRestore(cfg.Remote.ForceRestore),
		registry.WithSlim(opts.slim),
		registry.WithMirrorConcurrency(cfg.Remote.MirrorConcurrency),
		registry.WithCodec(opts.codec),
		registry.WithLogger(opts.logger.Logger),
		registry.WithClock(opts.now),
		registry.WithRemoteWriteHook(opts.metrics.OnRemoteWrite),
	)

	opts.logger.InfoContext(ctx, "nexus opened",
		"data_dir", cfg.DataDir,
		"remote", remote != nil,
		"backend", cfg.Remote.Backend,
		"floor", cfg.RegistryFloor,
		"shard_size", cfg.ShardSize,
	)
	return n, nil
}

// openRemote builds the remote store for rc, wrapped in its rate limits.
func openRemote(ctx context.Context, rc config.Remote) (blobstore.BlobStore, error) {
	var (
		inner blobstore.BlobStore
		err   error
	)
	switch rc.Backend {
	case config.BackendS3:
		opts := []s3.Option{s3.WithPrefix(rc.Prefix)}
		if rc.Region != "" {
			opts = append(opts, s3.WithRegion(rc.Region))
		}
		if rc.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(rc.Endpoint))
		}
		inner, err = s3.New(ctx, rc.Bucket, opts...)
	case config.BackendMinIO:
		opts := []minio.Option{minio.WithPrefix(rc.Prefix)}
		if rc.Region != "" {
			opts = append(opts, minio.WithRegion(rc.Region))
		}
		inner, err = minio.New(rc.Endpoint, rc.Bucket, opts...)
	case config.BackendLocal:
		inner = blobstore.NewLocalStore(filepath.Join(rc.Endpoint, filepath.FromSlash(rc.Prefix)))
	default:
		return nil, fmt.Errorf("nexus: unknown remote backend %q", rc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("nexus: open %s remote: %w", rc.Backend, err)
	}

	ctrl := resource.NewController(resource.Config{
		MaxInFlight: int64(max(rc.MirrorConcurrency, 1)),
		OpsPerSec:   rc.RateLimit,
		BytesPerSec: rc.Bandwidth,
	})
	return blobstore.NewGovernedStore(inner, ctrl), nil
}

// Config returns the configuration the instance was opened with.
func (n *Nexus) Config() config.Config { return n.cfg }

// Registry returns the persisted registry store.
func (n *Nexus) Registry() *registry.Store { return n.registry }

// Remote returns the remote store, or nil when remote storage is disabled.
func (n *Nexus) Remote() blobstore.BlobStore { return n.remote }

// Load reads the registry and requires it to reach the trusted floor.
func (n *Nexus) Load(ctx context.Context) (registry.LoadResult, error) {
	if n.closed.Load() {
		return registry.LoadResult{}, ErrClosed
	}
	start := time.Now()
	res, err := n.registry.LoadTrusted(ctx)
	n.opts.metrics.OnLoad(time.Since(start), res.Count, err)
	n.opts.logger.WithSource(res.Source).LogLoad(ctx, res.Count, time.Since(start), err)
	return res, translateError(err)
}

// Close releases the instance. Persisted state is not affected.
func (n *Nexus) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	n.opts.logger.Debug("nexus closed", slog.String("data_dir", n.cfg.DataDir))
	return nil
}

func (n *Nexus) workDir() string {
	return filepath.Join(n.cfg.DataDir, WorkDir)
}
