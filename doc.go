// Package nexus maintains a deduplicated registry of AI artifact metadata
// (models, papers, datasets, tools) under a bounded memory budget, persists
// it as positional gzip shards mirrored to a remote object store, and packs
// it into a read-optimized artifact.
//
// # Quick Start
//
//	cfg, _ := config.FromEnv()
//	nx, _ := nexus.Open(ctx, cfg, nexus.WithLogger(nexus.NewTextLogger(slog.LevelInfo)))
//	defer nx.Close()
//
//	res, err := nx.Aggregate(ctx, nexus.FileSource("updates/hf.ndjson"), nexus.FileSource("updates/gh.json.gz"))
//	if errors.Is(err, nexus.ErrAborted) {
//	    // baseline below the trusted floor, nothing was written
//	}
//
//	manifest, _ := nx.Pack(ctx, cfg.PackDir)
//
// # Aggregation
//
// One Aggregate call is a merge pass:
//
//  1. The persisted registry is streamed shard by shard. Each entity is
//     recorded in the id → shard index and hydrated into the on-disk
//     accumulator. A baseline below the configured floor aborts the pass.
//  2. Update streams are normalized to canonical ids and appended to one
//     delta file per destination shard. Ids unknown to the baseline are
//     spooled as inserts.
//  3. Deltas are replayed shard by shard in arrival order and merged into
//     the accumulator, followed by the inserts. Rows not touched by the
//     pass decay and are archived.
//  4. The accumulator is exported in score order into a registry writer,
//     which rewrites the shards and the monolith and mirrors changed files
//     to the remote store.
//
// No step holds more than one shard, one batch or one record in memory.
//
// # Remote Storage
//
// The remote store is chosen by config.Remote.Backend: Amazon S3
// (blobstore/s3), any S3-compatible endpoint such as MinIO or R2
// (blobstore/minio), or a local directory. Remote calls are rate limited by
// a resource.Controller and gated by content digest, so an unchanged file
// is never uploaded twice.
package nexus
