package blobstore

import (
	"context"
	"io"

	"github.com/hupe1980/nexus/resource"
)

// GovernedStore wraps a BlobStore so that every call passes through a
// resource.Controller. Streamed reads and writes are throttled by its byte
// budget.
type GovernedStore struct {
	inner BlobStore
	rc    *resource.Controller
}

// NewGovernedStore wraps inner. A nil controller makes the wrapper transparent.
func NewGovernedStore(inner BlobStore, rc *resource.Controller) *GovernedStore {
	return &GovernedStore{inner: inner, rc: rc}
}

// Unwrap returns the wrapped store.
func (s *GovernedStore) Unwrap() BlobStore { return s.inner }

func (s *GovernedStore) Open(ctx context.Context, name string) (Blob, error) {
	release, err := s.rc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &governedBlob{Blob: b, rc: s.rc}, nil
}

func (s *GovernedStore) Create(ctx context.Context, name string, opts ...PutOption) (WritableBlob, error) {
	release, err := s.rc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	w, err := s.inner.Create(ctx, name, opts...)
	if err != nil {
		release()
		return nil, err
	}
	return &governedWriter{
		WritableBlob: w,
		limited:      s.rc.Writer(ctx, w),
		release:      release,
	}, nil
}

func (s *GovernedStore) Put(ctx context.Context, name string, data []byte, opts ...PutOption) error {
	release, err := s.rc.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := s.rc.AcquireBytes(ctx, len(data)); err != nil {
		return err
	}
	return s.inner.Put(ctx, name, data, opts...)
}

func (s *GovernedStore) Stat(ctx context.Context, name string) (ObjectInfo, error) {
	release, err := s.rc.Acquire(ctx)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer release()
	return s.inner.Stat(ctx, name)
}

func (s *GovernedStore) Delete(ctx context.Context, names ...string) error {
	release, err := s.rc.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.inner.Delete(ctx, names...)
}

func (s *GovernedStore) List(ctx context.Context, prefix string) ([]string, error) {
	release, err := s.rc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.List(ctx, prefix)
}

type governedBlob struct {
	Blob
	rc *resource.Controller
}

func (b *governedBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	release, err := b.rc.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := b.Blob.ReadAt(ctx, p, off)
	if werr := b.rc.AcquireBytes(ctx, n); werr != nil && err == nil {
		err = werr
	}
	return n, err
}

func (b *governedBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	release, err := b.rc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rc, err := b.Blob.ReadRange(ctx, off, length)
	if err != nil {
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{b.rc.Reader(ctx, rc), rc}, nil
}

type governedWriter struct {
	WritableBlob
	limited io.Writer
	release func()
}

func (w *governedWriter) Write(p []byte) (int, error) {
	return w.limited.Write(p)
}

func (w *governedWriter) Close() error {
	defer w.release()
	return w.WritableBlob.Close()
}

func (w *governedWriter) Abort() error {
	defer w.release()
	return w.WritableBlob.Abort()
}
