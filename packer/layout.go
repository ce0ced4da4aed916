package packer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/nexus/model"
)

// Artifact names, relative to the artifact directory.
const (
	IndexName    = "content.db"
	BundleDir    = "bundles"
	ManifestName = "manifest.json"
)

// Defaults.
const (
	DefaultBundleThreshold = 50 * 1024
	DefaultMaxShardBytes   = 256 << 20
	DefaultMaxShards       = 64
	// Alignment is the offset alignment of bundles inside a shard file.
	Alignment = 8 << 10
)

// ManifestVersion is the artifact format version.
const ManifestVersion = 1

// ShardFileName returns the name of bundle shard i.
func ShardFileName(i int) string {
	return fmt.Sprintf("%s/shard-%03d.bin", BundleDir, i)
}

// Manifest describes a finished artifact.
type Manifest struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Entities  int       `json:"entities"`
	// Bundles counts bundles stored in shard files; Inline counts bundles
	// kept in the index row.
	Bundles int    `json:"bundles"`
	Inline  int    `json:"inline"`
	FTS     string `json:"fts"`
	// Index is the digest of content.db.
	Index string `json:"index_digest"`
	// Shards maps each bundle shard file to its digest.
	Shards map[string]string `json:"shards"`
}

// Bundle is the secondary payload of one entity.
type Bundle struct {
	Content       string          `json:"body_content,omitempty"`
	Changelog     string          `json:"changelog,omitempty"`
	PaperAbstract string          `json:"paper_abstract,omitempty"`
	Benchmarks    json.RawMessage `json:"benchmarks,omitempty"`
	Relations     json.RawMessage `json:"relations,omitempty"`
}

// BundleOf extracts the secondary payload of e. ok is false when e has none.
func BundleOf(e *model.Entity) (Bundle, bool) {
	b := Bundle{
		Content:       e.Content,
		Changelog:     e.Changelog,
		PaperAbstract: e.PaperAbstract,
		Benchmarks:    e.Benchmarks,
		Relations:     e.Relations,
	}
	ok := b.Content != "" || b.Changelog != "" || b.PaperAbstract != "" ||
		len(b.Benchmarks) > 0 || len(b.Relations) > 0
	return b, ok
}

// Location addresses a bundle inside a shard file.
type Location struct {
	Shard  string
	Offset int64
	Size   int64
	CRC    uint32
	Digest string
}

// Row is one entity as stored in the index.
type Row struct {
	ID           string
	Slug         string
	Name         string
	Type         model.Kind
	Author       string
	Summary      string
	Score        float64
	Percentile   string
	Trend7D      []float64
	Stars        int64
	Downloads    int64
	LastModified time.Time
	// Location is nil for inline bundles and entities without one.
	Location *Location
}

func alignUp(n int64) int64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
