// Package model defines the record types shared by every nexus component.
//
// # Entity
//
// An Entity is one harvested AI artifact (model, paper, dataset, space, agent
// or tool). Its canonical id is produced by the identity normalizer and is
// unique within a registry.
//
// Upstream sources disagree on field names ("fni" vs "fni_score", "title" vs
// "name", metadata as an object or as a JSON string). Decoding goes through a
// single schema table in fields.go: every known field has one canonical JSON
// name, an ordered list of aliases and one resolution function. Keys that are
// not part of the schema are preserved verbatim in Entity.Extra and written
// back on encode, so a round trip never drops data.
//
// # Shard
//
// A Shard is a positional slice of the registry together with its index, the
// number of entities it holds and the total shard count of the save that
// produced it.
package model
