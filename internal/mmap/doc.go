// Package mmap maps packed bundle shards read-only into memory.
//
//	m, err := mmap.Open("bundles/shard-000.bin")
//	if err != nil { ... }
//	defer m.Close()
//
//	b, err := m.Slice(offset, size)
//
// Unix uses mmap(2) with madvise(2) hints; Windows uses MapViewOfFile and
// treats hints as no-ops. Slices returned by Bytes and Slice are valid until
// Close.
package mmap
