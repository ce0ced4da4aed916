package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/nexus/internal/mmap"
)

const (
	metaSuffix = ".meta.json"
	tempMarker = ".tmp-"
)

// LocalStore implements BlobStore on the local filesystem.
//
// Writes go to a temporary file in the target directory and are renamed into
// place, so readers never observe a partial object. Digests are kept in a
// "<name>.meta.json" sidecar which List never reports.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

// Root returns the store directory.
func (s *LocalStore) Root() string { return s.root }

// Path returns the filesystem path of name.
func (s *LocalStore) Path(name string) (string, error) {
	clean := filepath.FromSlash(name)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("blobstore: invalid name %q", name)
	}
	return filepath.Join(s.root, clean), nil
}

type localMeta struct {
	Digest string `json:"digest"`
}

// Open maps the file into memory.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Create starts an atomic streaming write.
func (s *LocalStore) Create(_ context.Context, name string, opts ...PutOption) (WritableBlob, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+tempMarker+"*")
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{f: f, path: path, opts: ApplyPutOptions(opts)}, nil
}

// Put writes data atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, opts ...PutOption) error {
	w, err := s.Create(ctx, name, opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// Stat returns file size, modification time and the recorded digest.
func (s *LocalStore) Stat(_ context.Context, name string) (ObjectInfo, error) {
	path, err := s.Path(name)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{Name: name, Size: fi.Size(), ModTime: fi.ModTime()}

	raw, err := os.ReadFile(path + metaSuffix)
	switch {
	case err == nil:
		var meta localMeta
		if json.Unmarshal(raw, &meta) == nil {
			info.Digest = meta.Digest
		}
	case !errors.Is(err, fs.ErrNotExist):
		return ObjectInfo{}, err
	}
	return info, nil
}

// Delete removes files and their sidecars.
func (s *LocalStore) Delete(_ context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		path, err := s.Path(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, p := range []string{path, path + metaSuffix} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// List walks the store and returns slash-separated names matching prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := d.Name()
		if strings.HasSuffix(base, metaSuffix) || strings.Contains(base, tempMarker) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) Size() int64 { return int64(b.m.Size()) }

func (b *localBlob) Close() error { return b.m.Close() }

func (b *localBlob) Bytes() ([]byte, error) {
	data := b.m.Bytes()
	if data == nil && b.m.Size() > 0 {
		return nil, mmap.ErrClosed
	}
	return data, nil
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	data, err := b.Bytes()
	if err != nil {
		return 0, err
	}
	return byteBlob(data).ReadAt(ctx, p, off)
}

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return byteBlob(data).ReadRange(ctx, off, length)
}

type localWritableBlob struct {
	f       *os.File
	path    string
	opts    PutOptions
	aborted bool
	staged  bool
	closed  bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.aborted {
		return 0, ErrAborted
	}
	if w.staged || w.closed {
		return 0, os.ErrClosed
	}
	return w.f.Write(p)
}

func (w *localWritableBlob) Abort() error {
	if w.aborted || w.closed {
		return nil
	}
	w.aborted = true
	if !w.staged {
		_ = w.f.Close()
	}
	return os.Remove(w.f.Name())
}

// Stage syncs and closes the temporary file without renaming it.
func (w *localWritableBlob) Stage() error {
	if w.aborted {
		return ErrAborted
	}
	if w.staged || w.closed {
		return nil
	}
	tmp := w.f.Name()
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(tmp)
		w.aborted = true
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tmp)
		w.aborted = true
		return err
	}
	w.staged = true
	return nil
}

func (w *localWritableBlob) Close() error {
	if w.aborted {
		return ErrAborted
	}
	if w.closed {
		return nil
	}
	if err := w.Stage(); err != nil {
		return err
	}
	w.closed = true

	tmp := w.f.Name()
	if err := os.Rename(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if w.opts.Digest == "" {
		if err := os.Remove(w.path + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	meta, err := json.Marshal(localMeta{Digest: w.opts.Digest})
	if err != nil {
		return err
	}
	return os.WriteFile(w.path+metaSuffix, meta, 0o644)
}
