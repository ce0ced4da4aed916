package registry

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"
)

// Persisted names, relative to the store root.
const (
	MonolithName = "global-registry.json.gz"
	ShardDir     = "registry"
	ShardPrefix  = ShardDir + "/part-"
	ManifestName = ShardDir + "/manifest.json"
)

// ShardName returns the name of shard i.
func ShardName(i int) string {
	return fmt.Sprintf("%s%03d.json.gz", ShardPrefix, i)
}

var shardNameRE = regexp.MustCompile(`^registry/part-(\d+)\.json(\.gz)?$`)

// ParseShardName returns the index of a shard file name. Legacy
// uncompressed names are recognized.
func ParseShardName(name string) (index int, compressed bool, ok bool) {
	m := shardNameRE.FindStringSubmatch(name)
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, false
	}
	return n, m[2] != "", true
}

// Manifest describes the last committed save.
type Manifest struct {
	Count       int               `json:"count"`
	ShardCount  int               `json:"shard_count"`
	ShardSize   int               `json:"shard_size"`
	LastUpdated time.Time         `json:"last_updated"`
	Digests     map[string]string `json:"digests"`
}

type shardFile struct {
	index int
	name  string
}

// shardFiles picks one file per index from names, preferring the compressed
// file, sorted by index.
func shardFiles(names []string) []shardFile {
	byIndex := make(map[int]shardFile)
	compressed := make(map[int]bool)
	for _, name := range names {
		i, gz, ok := ParseShardName(name)
		if !ok {
			continue
		}
		if _, seen := byIndex[i]; seen && compressed[i] && !gz {
			continue
		}
		byIndex[i] = shardFile{index: i, name: name}
		compressed[i] = gz
	}
	out := make([]shardFile, 0, len(byIndex))
	for _, f := range byIndex {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b shardFile) int { return a.index - b.index })
	return out
}
