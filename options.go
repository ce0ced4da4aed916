package nexus

import (
	"time"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/codec"
)

// DefaultBatchSize is the number of updates merged per accumulator
// transaction.
const DefaultBatchSize = 1000

type options struct {
	codec     codec.Codec
	logger    *Logger
	metrics   MetricsObserver
	now       func() time.Time
	remote    blobstore.BlobStore
	slim      bool
	batchSize int
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec used for manifests, delta lines and
// accumulator rows.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock sets the time source for merge stamps, decay and manifests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRemoteStore uses s as the remote store instead of the one described
// by config.Remote. The store is used as given, without rate limiting.
func WithRemoteStore(s blobstore.BlobStore) Option {
	return func(o *options) { o.remote = s }
}

// WithSlim keeps only the summary view of every entity: long-form text,
// metadata and secondary payloads are dropped on load and merge.
func WithSlim(slim bool) Option {
	return func(o *options) { o.slim = slim }
}

// WithBatchSize sets the number of updates merged per accumulator
// transaction.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}
