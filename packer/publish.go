package packer

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/codec"
	"github.com/hupe1980/nexus/internal/gate"
	"github.com/hupe1980/nexus/internal/hash"
)

// PublishResult counts the remote writes of a Publish.
type PublishResult struct {
	Written int
	Skipped int
}

// Publish mirrors the artifact in dir to the gate's store under prefix.
// Files whose remote digest already matches are skipped. The manifest is
// written last, so a reader never sees a manifest naming files that are
// not yet uploaded.
func Publish(ctx context.Context, dir string, g *gate.Gate, prefix string) (PublishResult, error) {
	var res PublishResult
	m, err := ReadManifest(dir, nil)
	if err != nil {
		return res, err
	}
	local := blobstore.NewLocalStore(dir)

	files := make([]string, 0, len(m.Shards)+1)
	for name := range m.Shards {
		files = append(files, name)
	}
	sort.Strings(files)
	files = append(files, IndexName)

	for _, name := range files {
		digest := m.Index
		if name != IndexName {
			digest = m.Shards[name]
		}
		r, err := g.Mirror(ctx, local, name, path.Join(prefix, name), digest)
		if err != nil {
			return res, fmt.Errorf("packer: publish: %w", err)
		}
		res.count(r)
	}

	data, err := codec.Default.Marshal(m)
	if err != nil {
		return res, fmt.Errorf("packer: publish: %w", err)
	}
	r, err := g.PutBytes(ctx, path.Join(prefix, ManifestName), data, manifestDigest(m))
	if err != nil {
		return res, fmt.Errorf("packer: publish: %w", err)
	}
	res.count(r)
	return res, nil
}

func (p *PublishResult) count(r gate.Result) {
	if r.Skipped {
		p.Skipped++
	} else {
		p.Written++
	}
}

// manifestDigest identifies a manifest by the files it names, ignoring the
// build timestamp.
func manifestDigest(m Manifest) string {
	names := make([]string, 0, len(m.Shards))
	for name := range m.Shards {
		names = append(names, name)
	}
	sort.Strings(names)

	d := hash.NewDigester()
	_, _ = fmt.Fprintf(d, "%d %d %d %d %s %s\n", m.Version, m.Entities, m.Bundles, m.Inline, m.FTS, m.Index)
	for _, name := range names {
		_, _ = fmt.Fprintf(d, "%s %s\n", name, m.Shards[name])
	}
	return d.Sum()
}
