// Package packer builds the read-optimized artifact of the registry.
//
// An artifact directory holds:
//
//	content.db             SQLite index: one row per entity plus full-text search
//	bundles/shard-NNN.bin  zstd bundles larger than the threshold, 8 KiB aligned
//	manifest.json          SHA-256 of every bundle shard and of the index
//
// Secondary payloads (long-form text, relations, benchmarks) are bundled per
// entity. Small bundles stay in the index row; large ones are appended to
// the current bundle shard and the row stores the shard, offset, size and a
// CRC32C of the compressed bytes. The shard digest is written back into the
// rows that reference it.
//
// Full-text search uses a contentless FTS4 table, which mattn/go-sqlite3
// compiles in by default. WithFTS5 switches to FTS5, which needs the
// sqlite_fts5 build tag.
package packer
