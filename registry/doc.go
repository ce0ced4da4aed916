// Package registry is the durable store of the entity registry.
//
// A save writes the registry twice, in one streaming pass: as fixed-size
// positional shards (registry/part-NNN.json.gz) and as one monolith
// (global-registry.json.gz). Shard membership depends on row order at save
// time; the full shard set is rewritten on every save and shards past the
// new shard count are purged.
//
// Both layouts share the same record framing:
//
//	{"entities":[{...},{...}],"count":N,"lastUpdated":"..."}
//
// Digests cover the entity lines only, so content that did not change keeps
// its digest across saves and the remote mirror skips it.
//
// A load accepts a source only when it holds at least Floor entities. A
// smaller registry is reported as untrusted rather than returned partially.
package registry
