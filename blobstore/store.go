package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// ErrAborted is returned by Close on a writable blob that was aborted.
var ErrAborted = errors.New("blobstore: write aborted")

// MetaDigest is the user metadata key that carries the content digest on
// remote stores.
const MetaDigest = "content-digest"

// BlobStore is a flat store of immutable objects.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts a streaming write. The object becomes visible on Close.
	Create(ctx context.Context, name string, opts ...PutOption) (WritableBlob, error)
	// Put writes a whole object atomically.
	Put(ctx context.Context, name string, data []byte, opts ...PutOption) error
	// Stat returns object metadata without reading the content.
	Stat(ctx context.Context, name string) (ObjectInfo, error)
	// Delete removes objects. Missing objects are not an error.
	Delete(ctx context.Context, names ...string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to an object.
type Blob interface {
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
	// ReadAt reads len(p) bytes at off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange returns a reader over [off, off+length).
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// WritableBlob is a streaming write handle.
type WritableBlob interface {
	io.WriteCloser
	// Abort discards everything written. Close after Abort returns ErrAborted.
	Abort() error
}

// Stager is implemented by writable blobs that can make their content
// durable before publishing it. After a successful Stage, Close only
// publishes the object; Abort still discards it.
type Stager interface {
	Stage() error
}

// Mappable is implemented by blobs that expose their content without copying.
type Mappable interface {
	// Bytes returns the content. The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Name    string
	Size    int64
	Digest  string
	ModTime time.Time
}

// PutOptions are per-write settings.
type PutOptions struct {
	// Digest is recorded as object metadata and returned by Stat.
	Digest string
	// ContentType is the MIME type for remote stores.
	ContentType string
}

// PutOption configures a write.
type PutOption func(*PutOptions)

// WithDigest records digest alongside the object.
func WithDigest(digest string) PutOption {
	return func(o *PutOptions) { o.Digest = digest }
}

// WithContentType sets the object content type.
func WithContentType(ct string) PutOption {
	return func(o *PutOptions) { o.ContentType = ct }
}

// ApplyPutOptions folds opts over the defaults.
func ApplyPutOptions(opts []PutOption) PutOptions {
	o := PutOptions{ContentType: "application/octet-stream"}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewReader returns a sequential reader over the whole blob.
func NewReader(ctx context.Context, b Blob) (io.ReadCloser, error) {
	return b.ReadRange(ctx, 0, b.Size())
}

// ReadAll opens name and returns its full content.
func ReadAll(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), data...), nil
	}

	r, err := NewReader(ctx, b)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// byteBlob serves Blob reads from a byte slice.
type byteBlob []byte

func (b byteBlob) Size() int64 { return int64(len(b)) }

func (b byteBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b byteBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off > int64(len(b)) {
		return nil, io.EOF
	}
	end := min(off+length, int64(len(b)))
	return io.NopCloser(bytes.NewReader(b[off:end])), nil
}
