// Package minio provides a BlobStore for MinIO and other S3-compatible
// services (Cloudflare R2, Ceph, Garage) using the MinIO client.
//
//	store, err := minio.New("<account>.r2.cloudflarestorage.com", "backups",
//	    minio.WithPrefix("meta/backup/"),
//	    minio.WithSecure(true),
//	)
//
// Credentials default to the AWS_* and MINIO_* environment variables.
// Content digests are stored as user metadata and returned by Stat.
package minio
