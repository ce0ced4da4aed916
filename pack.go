package nexus

import (
	"context"
	"time"

	"github.com/hupe1980/nexus/internal/gate"
	"github.com/hupe1980/nexus/packer"
)

// ArtifactPrefix is the remote prefix under which Publish stores artifacts.
const ArtifactPrefix = "artifacts"

// Pack builds the read-optimized artifact of the persisted registry in dir.
// The registry is streamed shard by shard; a registry below the trusted
// floor returns ErrAborted and leaves no artifact behind.
func (n *Nexus) Pack(ctx context.Context, dir string, opts ...packer.Option) (packer.Manifest, error) {
	if n.closed.Load() {
		return packer.Manifest{}, ErrClosed
	}
	base := []packer.Option{
		packer.WithBundleThreshold(n.cfg.Bundle.Threshold),
		packer.WithMaxShardBytes(n.cfg.Bundle.MaxShardBytes),
		packer.WithMaxShards(n.cfg.Bundle.MaxShards),
		packer.WithCodec(n.opts.codec),
		packer.WithLogger(n.opts.logger.Logger),
		packer.WithClock(n.opts.now),
	}

	start := time.Now()
	m, err := packer.Pack(ctx, dir, n.registry, append(base, opts...)...)
	n.opts.metrics.OnPack(time.Since(start), m.Entities, m.Bundles, err)
	n.opts.logger.LogPack(ctx, dir, m.Entities, m.Bundles, err)
	return m, translateError(err)
}

// Verify checks the artifact in dir against its manifest. Integrity failures
// are reported as ErrAborted wrapping *packer.DigestMismatchError.
func (n *Nexus) Verify(ctx context.Context, dir string) error {
	return translateError(packer.Verify(ctx, dir))
}

// Publish mirrors the artifact in dir to the remote store under
// ArtifactPrefix. Files whose remote digest already matches are skipped.
// Without a remote store Publish does nothing.
func (n *Nexus) Publish(ctx context.Context, dir string) (packer.PublishResult, error) {
	if n.closed.Load() {
		return packer.PublishResult{}, ErrClosed
	}
	if n.remote == nil {
		n.opts.logger.Debug("publish skipped, no remote store")
		return packer.PublishResult{}, nil
	}
	if err := packer.Verify(ctx, dir); err != nil {
		return packer.PublishResult{}, translateError(err)
	}
	g := gate.New(n.remote,
		gate.WithLogger(n.opts.logger.Logger),
		gate.WithResultHook(func(r gate.Result) { n.opts.metrics.OnRemoteWrite(r.Name, r.Skipped) }),
	)
	res, err := packer.Publish(ctx, dir, g, ArtifactPrefix)
	if err != nil {
		n.opts.logger.WarnContext(ctx, "publish failed", "dir", dir, "error", err)
	} else {
		n.opts.logger.InfoContext(ctx, "artifact published", "written", res.Written, "skipped", res.Skipped)
	}
	return res, translateError(err)
}

// OpenArtifact opens the artifact in dir for lookups after verifying it.
func OpenArtifact(ctx context.Context, dir string, opts ...packer.ReaderOption) (*packer.Reader, error) {
	r, err := packer.OpenReader(ctx, dir, opts...)
	return r, translateError(err)
}
