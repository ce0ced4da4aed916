// Package gate skips remote writes whose content is already stored.
//
// Before a write, the gate reads the digest recorded in the destination's
// metadata (one Stat call) and compares it with the digest of the content
// about to be written. Equal digests mean the write is skipped.
package gate

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/internal/hash"
)

// Result describes one gated write.
type Result struct {
	Name    string
	Digest  string
	Bytes   int64
	Skipped bool
}

// Gate performs digest-gated writes against a destination store.
type Gate struct {
	dst      blobstore.BlobStore
	logger   *slog.Logger
	onResult func(Result)
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithResultHook registers fn to be called after every gated write.
func WithResultHook(fn func(Result)) Option {
	return func(g *Gate) { g.onResult = fn }
}

// New returns a Gate writing to dst.
func New(dst blobstore.BlobStore, opts ...Option) *Gate {
	g := &Gate{
		dst:    dst,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store returns the destination store.
func (g *Gate) Store() blobstore.BlobStore { return g.dst }

// Unchanged reports whether name already carries digest. A missing object or
// a failed metadata read counts as changed.
func (g *Gate) Unchanged(ctx context.Context, name, digest string) bool {
	info, err := g.dst.Stat(ctx, name)
	if err != nil {
		if !blobstore.IsNotFound(err) {
			g.logger.Warn("gate: stat failed, writing anyway", "name", name, "error", err)
		}
		return false
	}
	return info.Digest != "" && info.Digest == digest
}

// PutBytes writes data to name unless the stored digest equals digest.
// An empty digest is computed from data.
func (g *Gate) PutBytes(ctx context.Context, name string, data []byte, digest string) (Result, error) {
	if digest == "" {
		digest = hash.Digest(data)
	}
	res := Result{Name: name, Digest: digest, Bytes: int64(len(data))}

	if g.Unchanged(ctx, name, digest) {
		res.Skipped = true
		return g.done(res), nil
	}
	if err := g.dst.Put(ctx, name, data, blobstore.WithDigest(digest)); err != nil {
		return res, fmt.Errorf("gate: put %s: %w", name, err)
	}
	return g.done(res), nil
}

// Mirror copies srcName from src to name on the destination unless the
// destination already carries digest. An empty digest is taken from the
// source object's metadata; if the source has none, its content is hashed.
func (g *Gate) Mirror(ctx context.Context, src blobstore.BlobStore, srcName, name, digest string) (Result, error) {
	if digest == "" {
		info, err := src.Stat(ctx, srcName)
		if err != nil {
			return Result{Name: name}, fmt.Errorf("gate: stat source %s: %w", srcName, err)
		}
		digest = info.Digest
	}
	if digest == "" {
		d, err := digestOf(ctx, src, srcName)
		if err != nil {
			return Result{Name: name}, err
		}
		digest = d
	}

	res := Result{Name: name, Digest: digest}
	if g.Unchanged(ctx, name, digest) {
		res.Skipped = true
		return g.done(res), nil
	}

	n, err := copyObject(ctx, src, srcName, g.dst, name, digest)
	res.Bytes = n
	if err != nil {
		return res, err
	}
	return g.done(res), nil
}

func (g *Gate) done(res Result) Result {
	if res.Skipped {
		g.logger.Debug("gate: unchanged, skipped", "name", res.Name, "digest", res.Digest)
	} else {
		g.logger.Info("gate: written", "name", res.Name, "bytes", res.Bytes)
	}
	if g.onResult != nil {
		g.onResult(res)
	}
	return res
}

func digestOf(ctx context.Context, s blobstore.BlobStore, name string) (string, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return "", fmt.Errorf("gate: open %s: %w", name, err)
	}
	defer b.Close()
	r, err := blobstore.NewReader(ctx, b)
	if err != nil {
		return "", err
	}
	defer r.Close()
	d, _, err := hash.DigestReader(r)
	return d, err
}

func copyObject(ctx context.Context, src blobstore.BlobStore, srcName string, dst blobstore.BlobStore, name, digest string) (int64, error) {
	b, err := src.Open(ctx, srcName)
	if err != nil {
		return 0, fmt.Errorf("gate: open %s: %w", srcName, err)
	}
	defer b.Close()
	r, err := blobstore.NewReader(ctx, b)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	w, err := dst.Create(ctx, name, blobstore.WithDigest(digest))
	if err != nil {
		return 0, fmt.Errorf("gate: create %s: %w", name, err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Abort()
		return n, fmt.Errorf("gate: copy %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("gate: commit %s: %w", name, err)
	}
	return n, nil
}
