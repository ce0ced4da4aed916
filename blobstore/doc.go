// Package blobstore provides the object storage abstraction behind the
// registry and the packer.
//
// A BlobStore is a flat key space of immutable objects. Every object may
// carry a content digest in its metadata; the registry compares that digest
// before writing so unchanged objects are never uploaded twice.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic rename writes, mmap reads
//   - MemoryStore: in-process store with call counters, used in tests
//   - s3.Store: Amazon S3 (aws-sdk-go-v2)
//   - minio.Store: MinIO, Cloudflare R2 and other S3-compatible services
//
// Any store can be wrapped with NewGovernedStore to bound request rate and
// in-flight calls against a remote service.
package blobstore
