package blobstore

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Op names a BlobStore operation for counters and fault injection.
type Op string

const (
	OpOpen   Op = "open"
	OpCreate Op = "create"
	OpPut    Op = "put"
	OpStat   Op = "stat"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// MemoryStore is an in-memory BlobStore for tests.
// It counts calls per operation and can inject failures.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	faults  map[Op]error

	calls [6]atomic.Int64
	now   func() time.Time
}

type memoryObject struct {
	data    []byte
	digest  string
	modTime time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		faults:  make(map[Op]error),
		now:     time.Now,
	}
}

func opIndex(op Op) int {
	switch op {
	case OpOpen:
		return 0
	case OpCreate:
		return 1
	case OpPut:
		return 2
	case OpStat:
		return 3
	case OpDelete:
		return 4
	default:
		return 5
	}
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op Op) int64 {
	return m.calls[opIndex(op)].Load()
}

// ResetCalls zeroes every counter.
func (m *MemoryStore) ResetCalls() {
	for i := range m.calls {
		m.calls[i].Store(0)
	}
}

// Fail makes every subsequent call of op return err. A nil err clears it.
func (m *MemoryStore) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (m *MemoryStore) enter(op Op) error {
	m.calls[opIndex(op)].Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.faults[op]
}

// Names returns every stored name in sorted order.
func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a blob for reading.
func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	if err := m.enter(OpOpen); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return memoryBlob{byteBlob: slices.Clone(obj.data)}, nil
}

// Create starts a buffered write that is stored on Close.
func (m *MemoryStore) Create(_ context.Context, name string, opts ...PutOption) (WritableBlob, error) {
	if err := m.enter(OpCreate); err != nil {
		return nil, err
	}
	return &memoryWritableBlob{store: m, name: name, opts: ApplyPutOptions(opts)}, nil
}

// Put stores a copy of data.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte, opts ...PutOption) error {
	if err := m.enter(OpPut); err != nil {
		return err
	}
	m.store(name, slices.Clone(data), ApplyPutOptions(opts))
	return nil
}

func (m *MemoryStore) store(name string, data []byte, o PutOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = memoryObject{data: data, digest: o.Digest, modTime: m.now()}
}

// Stat returns object metadata.
func (m *MemoryStore) Stat(_ context.Context, name string) (ObjectInfo, error) {
	if err := m.enter(OpStat); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[name]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Name: name, Size: int64(len(obj.data)), Digest: obj.digest, ModTime: obj.modTime}, nil
}

// Delete removes objects.
func (m *MemoryStore) Delete(_ context.Context, names ...string) error {
	if err := m.enter(OpDelete); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		delete(m.objects, name)
	}
	return nil
}

// List returns all names matching prefix in sorted order.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	if err := m.enter(OpList); err != nil {
		return nil, err
	}
	var names []string
	for _, name := range m.Names() {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

type memoryBlob struct {
	byteBlob
}

func (memoryBlob) Close() error { return nil }

func (b memoryBlob) Bytes() ([]byte, error) { return b.byteBlob, nil }

type memoryWritableBlob struct {
	store   *MemoryStore
	name    string
	opts    PutOptions
	buf     bytes.Buffer
	aborted bool
	closed  bool
}

func (w *memoryWritableBlob) Write(p []byte) (int, error) {
	if w.aborted {
		return 0, ErrAborted
	}
	return w.buf.Write(p)
}

func (w *memoryWritableBlob) Abort() error {
	w.aborted = true
	w.buf.Reset()
	return nil
}

func (w *memoryWritableBlob) Close() error {
	if w.aborted {
		return ErrAborted
	}
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.store(w.name, slices.Clone(w.buf.Bytes()), w.opts)
	return nil
}
