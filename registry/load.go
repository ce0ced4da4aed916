package registry

import (
	"context"
	"fmt"

	"github.com/hupe1980/nexus/blobstore"
	"github.com/hupe1980/nexus/internal/partition"
	"github.com/hupe1980/nexus/model"
)

// Load sources, in the order they are tried.
const (
	SourceLocalMonolith  = "local-monolith"
	SourceLocalShards    = "local-shards"
	SourceRemoteMonolith = "remote-monolith"
	SourceRemoteShards   = "remote-shards"
)

// LoadResult is the outcome of Load. An untrusted result carries no
// entities: a partial registry is never returned.
type LoadResult struct {
	Entities []*model.Entity
	Count    int
	Source   string
	Trusted  bool
}

type loadSource struct {
	name  string
	store blobstore.BlobStore
	shard bool
}

func (s *Store) sources() []loadSource {
	var out []loadSource
	if !s.opts.forceRemoteRestore {
		out = append(out,
			loadSource{name: SourceLocalMonolith, store: s.local},
			loadSource{name: SourceLocalShards, store: s.local, shard: true},
		)
	}
	if s.remote != nil {
		out = append(out,
			loadSource{name: SourceRemoteMonolith, store: s.remote},
			loadSource{name: SourceRemoteShards, store: s.remote, shard: true},
		)
	}
	return out
}

// Load reads the full registry from the first source that meets the floor.
// When none does, the result is empty and untrusted; Load only returns an
// error on cancellation.
func (s *Store) Load(ctx context.Context) (LoadResult, error) {
	log := s.opts.logger
	best := 0
	found := false
	for _, src := range s.sources() {
		var entities []*model.Entity
		sink := func(e *model.Entity) error {
			entities = append(entities, s.project(e))
			return nil
		}

		var err error
		if src.shard {
			err = s.readShardSet(ctx, src.store, func(f shardFile) error {
				return s.readFile(ctx, src.store, f.name, sink)
			})
		} else {
			err = s.readFile(ctx, src.store, MonolithName, sink)
		}
		if ctx.Err() != nil {
			return LoadResult{}, ctx.Err()
		}
		if err != nil {
			if !blobstore.IsNotFound(err) {
				log.Warn("registry: load source failed", "source", src.name, "error", err)
			}
			continue
		}

		found = true
		best = max(best, len(entities))
		if len(entities) >= s.opts.floor {
			log.Info("registry: loaded", "source", src.name, "count", len(entities))
			return LoadResult{Entities: entities, Count: len(entities), Source: src.name, Trusted: true}, nil
		}
		log.Warn("registry: source below floor", "source", src.name, "count", len(entities), "floor", s.opts.floor)
	}

	if !found && s.opts.floor == 0 {
		return LoadResult{Trusted: true}, nil
	}
	return LoadResult{Count: best}, nil
}

// LoadTrusted is Load for callers that require trust: an untrusted load is
// returned as a *FloorError.
func (s *Store) LoadTrusted(ctx context.Context) (LoadResult, error) {
	res, err := s.Load(ctx)
	if err != nil {
		return res, err
	}
	if !res.Trusted {
		return res, &FloorError{Count: res.Count, Floor: s.opts.floor}
	}
	return res, nil
}

// Scan streams the registry one shard at a time. It prefers the local shard
// set, then the remote one; when only a monolith exists it is re-chunked
// into shards of the configured size. Read errors end the scan. When the
// streamed total is below the floor, Scan returns a *FloorError after fn has
// seen every shard, so callers must not persist anything before Scan
// returns.
func (s *Store) Scan(ctx context.Context, fn func(*model.Shard) error) error {
	total, err := s.scan(ctx, fn)
	if err != nil {
		return err
	}
	if total < s.opts.floor {
		return &FloorError{Count: total, Floor: s.opts.floor}
	}
	return nil
}

func (s *Store) scan(ctx context.Context, fn func(*model.Shard) error) (int, error) {
	for _, src := range s.sources() {
		if !src.shard {
			continue
		}
		files, m, err := s.listShards(ctx, src.store)
		if err != nil {
			s.opts.logger.Warn("registry: list shards failed", "source", src.name, "error", err)
			continue
		}
		if len(files) == 0 {
			continue
		}
		s.opts.logger.Debug("registry: scanning shards", "source", src.name, "shards", len(files))

		total := 0
		for _, f := range files {
			sh := &model.Shard{Index: f.index, Total: m.Count, LastUpdated: m.LastUpdated}
			if err := s.readFile(ctx, src.store, f.name, func(e *model.Entity) error {
				sh.Entities = append(sh.Entities, s.project(e))
				return nil
			}); err != nil {
				return total, fmt.Errorf("registry: scan %s: %w", f.name, err)
			}
			sh.Count = len(sh.Entities)
			total += sh.Count
			if err := fn(sh); err != nil {
				return total, err
			}
		}
		return total, nil
	}

	for _, src := range s.sources() {
		if src.shard {
			continue
		}
		total, err := s.scanMonolith(ctx, src.store, fn)
		if blobstore.IsNotFound(err) {
			continue
		}
		return total, err
	}
	return 0, nil
}

func (s *Store) scanMonolith(ctx context.Context, st blobstore.BlobStore, fn func(*model.Shard) error) (int, error) {
	total := 0
	sh := &model.Shard{}
	flush := func() error {
		if len(sh.Entities) == 0 {
			return nil
		}
		sh.Count = len(sh.Entities)
		total += sh.Count
		if err := fn(sh); err != nil {
			return err
		}
		sh = &model.Shard{Index: sh.Index + 1}
		return nil
	}
	err := s.readFile(ctx, st, MonolithName, func(e *model.Entity) error {
		sh.Entities = append(sh.Entities, s.project(e))
		if len(sh.Entities) == s.opts.shardSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flush()
}

// listShards returns the shard files of st. When a manifest exists, only its
// shard count is trusted.
func (s *Store) listShards(ctx context.Context, st blobstore.BlobStore) ([]shardFile, Manifest, error) {
	names, err := st.List(ctx, ShardPrefix)
	if err != nil {
		return nil, Manifest{}, err
	}
	files := shardFiles(names)

	m, err := readManifest(ctx, st, s.opts.codec)
	if err != nil {
		if !blobstore.IsNotFound(err) {
			s.opts.logger.Warn("registry: manifest unreadable", "error", err)
		}
		return files, Manifest{}, nil
	}
	kept := files[:0]
	for _, f := range files {
		if f.index < m.ShardCount {
			kept = append(kept, f)
		}
	}
	return kept, m, nil
}

func (s *Store) readShardSet(ctx context.Context, st blobstore.BlobStore, fn func(shardFile) error) error {
	files, _, err := s.listShards(ctx, st)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return blobstore.ErrNotFound
	}
	for _, f := range files {
		if err := fn(f); err != nil {
			if blobstore.IsNotFound(err) {
				s.opts.logger.Warn("registry: shard vanished", "name", f.name)
				continue
			}
			return err
		}
	}
	return nil
}

// readFile streams the entities of one registry file into sink. Compression
// is detected from content, not from the name.
func (s *Store) readFile(ctx context.Context, st blobstore.BlobStore, name string, sink func(*model.Entity) error) error {
	b, err := st.Open(ctx, name)
	if err != nil {
		return err
	}
	defer b.Close()
	r, err := blobstore.NewReader(ctx, b)
	if err != nil {
		return err
	}
	defer r.Close()

	stats, err := partition.Partition(ctx, r, sink, partition.WithCodec(s.opts.codec), partition.WithLogger(s.opts.logger))
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", name, err)
	}
	if stats.Skipped > 0 {
		s.opts.logger.Warn("registry: skipped undecodable records", "name", name, "skipped", stats.Skipped)
	}
	return nil
}

func (s *Store) project(e *model.Entity) *model.Entity {
	if s.opts.slim {
		return model.Project(e)
	}
	return e
}
