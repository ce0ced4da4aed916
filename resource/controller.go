// Package resource bounds the load a pipeline run puts on a remote object
// store: request rate, bandwidth and calls in flight.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds remote I/O limits. Zero values mean unlimited.
type Config struct {
	// MaxInFlight caps concurrent remote calls.
	MaxInFlight int64
	// OpsPerSec caps the remote request rate.
	OpsPerSec float64
	// BytesPerSec caps streamed upload and download throughput.
	BytesPerSec int64
}

// Controller enforces a Config. A nil *Controller imposes no limits.
type Controller struct {
	inFlight *semaphore.Weighted
	ops      *rate.Limiter
	bytes    *rate.Limiter

	active atomic.Int64
	total  atomic.Int64
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{}
	if cfg.MaxInFlight > 0 {
		c.inFlight = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	if cfg.OpsPerSec > 0 {
		burst := max(1, int(cfg.OpsPerSec))
		c.ops = rate.NewLimiter(rate.Limit(cfg.OpsPerSec), burst)
	}
	if cfg.BytesPerSec > 0 {
		c.bytes = rate.NewLimiter(rate.Limit(cfg.BytesPerSec), int(cfg.BytesPerSec))
	}
	return c
}

// Acquire waits for a call slot and a rate token. The returned release must
// be called when the call finishes.
func (c *Controller) Acquire(ctx context.Context) (release func(), err error) {
	if c == nil {
		return func() {}, nil
	}
	if c.inFlight != nil {
		if err := c.inFlight.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if c.ops != nil {
		if err := c.ops.Wait(ctx); err != nil {
			if c.inFlight != nil {
				c.inFlight.Release(1)
			}
			return nil, err
		}
	}
	c.active.Add(1)
	c.total.Add(1)

	var once atomic.Bool
	return func() {
		if once.Swap(true) {
			return
		}
		c.active.Add(-1)
		if c.inFlight != nil {
			c.inFlight.Release(1)
		}
	}, nil
}

// TryAcquire takes a call slot without blocking. It ignores the rate limit.
func (c *Controller) TryAcquire() (release func(), ok bool) {
	if c == nil {
		return func() {}, true
	}
	if c.inFlight != nil && !c.inFlight.TryAcquire(1) {
		return nil, false
	}
	c.active.Add(1)
	c.total.Add(1)

	var once atomic.Bool
	return func() {
		if once.Swap(true) {
			return
		}
		c.active.Add(-1)
		if c.inFlight != nil {
			c.inFlight.Release(1)
		}
	}, true
}

// AcquireBytes waits until n bytes may be transferred.
func (c *Controller) AcquireBytes(ctx context.Context, n int) error {
	if c == nil || c.bytes == nil || n <= 0 {
		return nil
	}
	burst := c.bytes.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := c.bytes.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Active returns the number of calls currently holding a slot.
func (c *Controller) Active() int64 {
	if c == nil {
		return 0
	}
	return c.active.Load()
}

// Total returns the number of slots granted so far.
func (c *Controller) Total() int64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
