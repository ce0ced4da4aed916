// Package delta routes incoming updates to per-shard append logs.
//
// A pass builds an Index (canonical id to baseline shard) once, then every
// update is a single map lookup followed by an append to
// delta-NNN.ndjson. Updates whose id is not in the index are handed to an
// optional miss callback, the insert path for new entities.
//
// Files for one shard are appended in arrival order and Replay returns
// lines in that same order, so a later update for an id always reaches the
// merge after an earlier one.
package delta
