// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("meta/backup/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Content digests are stored as object user metadata, so Stat is a single
// HEAD request. Streaming writes go through the multipart upload manager and
// batch deletes use DeleteObjects.
package s3
