package packer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/nexus/internal/hash"
)

var zeroPad [Alignment]byte

// shardWriter appends bundles to the current shard file, rolling to a new
// file when the size limit would be exceeded. Every shard is hashed as it is
// written.
type shardWriter struct {
	dir       string
	maxBytes  int64
	maxShards int

	index  int
	name   string
	f      *os.File
	w      *bufio.Writer
	d      *hash.Digester
	out    io.Writer
	offset int64

	digests map[string]string
	bundles int
}

func newShardWriter(dir string, maxBytes int64, maxShards int) *shardWriter {
	return &shardWriter{
		dir:       dir,
		maxBytes:  maxBytes,
		maxShards: maxShards,
		index:     -1,
		digests:   make(map[string]string),
	}
}

// append writes data at the next aligned offset and returns its location.
func (s *shardWriter) append(data []byte) (Location, error) {
	size := int64(len(data))
	if s.f != nil && s.offset > 0 && alignUp(s.offset)+size > s.maxBytes {
		if err := s.closeCurrent(); err != nil {
			return Location{}, err
		}
	}
	if s.f == nil {
		if err := s.roll(); err != nil {
			return Location{}, err
		}
	}

	aligned := alignUp(s.offset)
	if pad := aligned - s.offset; pad > 0 {
		if _, err := s.out.Write(zeroPad[:pad]); err != nil {
			return Location{}, fmt.Errorf("packer: write %s: %w", s.name, err)
		}
	}
	if _, err := s.out.Write(data); err != nil {
		return Location{}, fmt.Errorf("packer: write %s: %w", s.name, err)
	}
	s.offset = aligned + size
	s.bundles++

	return Location{
		Shard:  s.name,
		Offset: aligned,
		Size:   size,
		CRC:    hash.CRC32C(data),
	}, nil
}

func (s *shardWriter) roll() error {
	if s.index+1 >= s.maxShards {
		return fmt.Errorf("%w: %d shards", ErrShardLimit, s.maxShards)
	}
	s.index++
	s.name = ShardFileName(s.index)

	f, err := os.Create(filepath.Join(s.dir, filepath.FromSlash(s.name)))
	if err != nil {
		return fmt.Errorf("packer: create shard: %w", err)
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, 1<<20)
	s.d = hash.NewDigester()
	s.out = io.MultiWriter(s.w, s.d)
	s.offset = 0
	return nil
}

func (s *shardWriter) closeCurrent() error {
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil
	if err := s.w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("packer: flush %s: %w", s.name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("packer: sync %s: %w", s.name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("packer: close %s: %w", s.name, err)
	}
	s.digests[s.name] = s.d.Sum()
	return nil
}

// abort closes the open shard without recording it.
func (s *shardWriter) abort() {
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
}
