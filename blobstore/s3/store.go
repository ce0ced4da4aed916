package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hupe1980/nexus/blobstore"
)

// maxDeleteBatch is the DeleteObjects request limit.
const maxDeleteBatch = 1000

// Client is the subset of the S3 API used by Store.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store implements blobstore.BlobStore for S3.
type Store struct {
	client   Client
	bucket   string
	prefix   string
	partSize int64
}

// Options configures New.
type Options struct {
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	// PartSize is the multipart upload part size. Default 8 MiB.
	PartSize int64
}

// Option configures New.
type Option func(*Options)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option { return func(o *Options) { o.Prefix = prefix } }

// WithRegion sets the AWS region.
func WithRegion(region string) Option { return func(o *Options) { o.Region = region } }

// WithEndpoint points the client at a custom endpoint and enables path-style
// addressing.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
		o.UsePathStyle = true
	}
}

// WithPartSize sets the multipart upload part size.
func WithPartSize(n int64) Option { return func(o *Options) { o.PartSize = n } }

// New loads the default AWS configuration and returns a Store for bucket.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	s := NewStore(client, bucket, opts.Prefix)
	if opts.PartSize > 0 {
		s.partSize = opts.PartSize
	}
	return s, nil
}

// NewStore creates a Store over an existing client.
// rootPrefix is prepended to all keys.
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   rootPrefix,
		partSize: 8 << 20,
	}
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

// Open issues a HEAD request and returns a range-reading blob.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	info, err := s.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	return &blob{client: s.client, bucket: s.bucket, key: s.key(name), size: info.Size}, nil
}

// Create starts a multipart streaming upload.
func (s *Store) Create(ctx context.Context, name string, opts ...blobstore.PutOption) (blobstore.WritableBlob, error) {
	o := blobstore.ApplyPutOptions(opts)
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = s.partSize
	})
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		ContentType: aws.String(o.ContentType),
		Metadata:    metadata(o),
	}
	return newWritableBlob(ctx, uploader, input), nil
}

// Put uploads data in a single request.
func (s *Store) Put(ctx context.Context, name string, data []byte, opts ...blobstore.PutOption) error {
	o := blobstore.ApplyPutOptions(opts)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(o.ContentType),
		Metadata:      metadata(o),
	})
	return err
}

func metadata(o blobstore.PutOptions) map[string]string {
	if o.Digest == "" {
		return nil
	}
	return map[string]string{blobstore.MetaDigest: o.Digest}
}

// Stat returns size, modification time and the recorded digest.
func (s *Store) Stat(ctx context.Context, name string) (blobstore.ObjectInfo, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return blobstore.ObjectInfo{}, blobstore.ErrNotFound
		}
		return blobstore.ObjectInfo{}, err
	}

	info := blobstore.ObjectInfo{
		Name:   name,
		Size:   aws.ToInt64(head.ContentLength),
		Digest: head.Metadata[blobstore.MetaDigest],
	}
	if head.LastModified != nil {
		info.ModTime = *head.LastModified
	}
	return info, nil
}

// Delete removes objects in batches of up to 1000 keys.
func (s *Store) Delete(ctx context.Context, names ...string) error {
	for start := 0; start < len(names); start += maxDeleteBatch {
		batch := names[start:min(start+maxDeleteBatch, len(names))]
		ids := make([]types.ObjectIdentifier, len(batch))
		for i, name := range batch {
			ids[i] = types.ObjectIdentifier{Key: aws.String(s.key(name))}
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		var errs []error
		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			errs = append(errs, fmt.Errorf("s3: delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
	}
	return nil
}

// List returns sorted names under prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			names = append(names, s.rel(aws.ToString(obj.Key)))
		}
	}
	// ListObjectsV2 returns keys in UTF-8 binary order already.
	return names, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
