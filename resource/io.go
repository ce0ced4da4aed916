package resource

import (
	"context"
	"io"
)

// Writer returns w with every write charged to the byte budget. Without a
// byte limit w is returned unchanged.
func (c *Controller) Writer(ctx context.Context, w io.Writer) io.Writer {
	if c == nil || c.bytes == nil {
		return w
	}
	return &meteredWriter{ctx: ctx, w: w, c: c}
}

// Reader returns r with every read charged to the byte budget after it
// completes. Without a byte limit r is returned unchanged.
func (c *Controller) Reader(ctx context.Context, r io.Reader) io.Reader {
	if c == nil || c.bytes == nil {
		return r
	}
	return &meteredReader{ctx: ctx, r: r, c: c}
}

type meteredWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

func (m *meteredWriter) Write(p []byte) (int, error) {
	if err := m.c.AcquireBytes(m.ctx, len(p)); err != nil {
		return 0, err
	}
	return m.w.Write(p)
}

type meteredReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		if werr := m.c.AcquireBytes(m.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
