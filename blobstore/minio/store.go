package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store implements blobstore.BlobStore on a MinIO client.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// Options configures New.
type Options struct {
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Option configures New.
type Option func(*Options)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option { return func(o *Options) { o.Prefix = prefix } }

// WithRegion sets the bucket region.
func WithRegion(region string) Option { return func(o *Options) { o.Region = region } }

// WithStaticCredentials sets fixed credentials instead of the environment.
func WithStaticCredentials(accessKey, secretKey string) Option {
	return func(o *Options) {
		o.AccessKey = accessKey
		o.SecretKey = secretKey
	}
}

// WithSecure enables TLS.
func WithSecure(secure bool) Option { return func(o *Options) { o.Secure = secure } }

// New connects to endpoint and returns a Store for bucket.
func New(endpoint, bucket string, optFns ...Option) (*Store, error) {
	opts := Options{Secure: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
	})
	if opts.AccessKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: connect %s: %w", endpoint, err)
	}
	return NewStore(client, bucket, opts.Prefix), nil
}

// NewStore creates a Store over an existing client.
// rootPrefix is prepended to all keys.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) rel(key string) string {
	p := strings.TrimSuffix(s.prefix, "/")
	if p == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, p), "/")
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// digestFrom returns the digest user metadata. MinIO canonicalizes header
// names, so the lookup ignores case.
func digestFrom(meta map[string]string) string {
	for k, v := range meta {
		if strings.EqualFold(k, blobstore.MetaDigest) {
			return v
		}
	}
	return ""
}

func putOptions(o blobstore.PutOptions) minio.PutObjectOptions {
	opts := minio.PutObjectOptions{ContentType: o.ContentType}
	if o.Digest != "" {
		opts.UserMetadata = map[string]string{blobstore.MetaDigest: o.Digest}
	}
	return opts
}

// Open stats the object and returns a range-reading blob.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	info, err := s.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	return &blob{client: s.client, bucket: s.bucket, key: s.key(name), size: info.Size}, nil
}

// Put uploads data in a single request.
func (s *Store) Put(ctx context.Context, name string, data []byte, opts ...blobstore.PutOption) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
		putOptions(blobstore.ApplyPutOptions(opts)))
	return err
}

// Create starts a streaming upload of unknown length.
func (s *Store) Create(ctx context.Context, name string, opts ...blobstore.PutOption) (blobstore.WritableBlob, error) {
	pr, pw := io.Pipe()
	w := &writableBlob{pw: pw, done: make(chan error, 1)}
	po := putOptions(blobstore.ApplyPutOptions(opts))
	key := s.key(name)

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, key, pr, -1, po)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// Stat returns object metadata.
func (s *Store) Stat(ctx context.Context, name string) (blobstore.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return blobstore.ObjectInfo{}, blobstore.ErrNotFound
		}
		return blobstore.ObjectInfo{}, err
	}
	return blobstore.ObjectInfo{
		Name:    name,
		Size:    info.Size,
		Digest:  digestFrom(info.UserMetadata),
		ModTime: info.LastModified,
	}, nil
}

// Delete removes objects with a multi-object delete.
func (s *Store) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(names))
	for _, name := range names {
		objects <- minio.ObjectInfo{Key: s.key(name)}
	}
	close(objects)

	var errs []error
	for e := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if e.Err == nil || isNotFound(e.Err) {
			continue
		}
		errs = append(errs, fmt.Errorf("minio: delete %s: %w", e.ObjectName, e.Err))
	}
	return errors.Join(errs...)
}

// List returns sorted names under prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: full, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.rel(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

type blob struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
}

func (b *blob) Size() int64 { return b.size }

func (b *blob) Close() error { return nil }

func (b *blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= b.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := min(off+int64(len(p)), b.size) - 1
	r, err := b.ReadRange(ctx, off, end-off+1)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := io.ReadFull(r, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off > b.size {
		return nil, io.EOF
	}
	if length <= 0 || off == b.size {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, min(off+length, b.size)-1); err != nil {
		return nil, err
	}
	obj, err := b.client.GetObject(ctx, b.bucket, b.key, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

type writableBlob struct {
	pw   *io.PipeWriter
	done chan error

	mu      sync.Mutex
	closed  bool
	aborted bool
	err     error
}

func (w *writableBlob) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *writableBlob) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.aborted {
		return blobstore.ErrAborted
	}
	if w.closed {
		return w.err
	}
	w.closed = true
	if err := w.pw.Close(); err != nil {
		w.err = err
		return err
	}
	w.err = <-w.done
	return w.err
}

func (w *writableBlob) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.aborted {
		return nil
	}
	w.aborted = true
	_ = w.pw.CloseWithError(blobstore.ErrAborted)
	<-w.done
	return nil
}
