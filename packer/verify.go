package packer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// Verify recomputes the digest of every artifact file in dir and compares
// it with the manifest. Shard files missing from the manifest and rows
// whose recorded digest disagrees with the manifest are integrity failures
// too. Mismatches are reported as *DigestMismatchError.
func Verify(ctx context.Context, dir string) error {
	m, err := ReadManifest(dir, nil)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(m.Shards))
	for name := range m.Shards {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := checkFile(dir, name, m.Shards[name]); err != nil {
			return err
		}
	}
	if err := checkFile(dir, IndexName, m.Index); err != nil {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(dir, BundleDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packer: verify: %w", err)
	}
	for _, e := range entries {
		name := path.Join(BundleDir, e.Name())
		if _, ok := m.Shards[name]; !ok {
			return &DigestMismatchError{Name: name, Got: "unlisted"}
		}
	}

	return checkRows(ctx, dir, m)
}

func checkFile(dir, name, want string) error {
	got, err := digestFile(filepath.Join(dir, filepath.FromSlash(name)))
	if errors.Is(err, os.ErrNotExist) {
		return &DigestMismatchError{Name: name, Want: want, Got: "missing"}
	}
	if err != nil {
		return err
	}
	if got != want {
		return &DigestMismatchError{Name: name, Want: want, Got: got}
	}
	return nil
}

// checkRows compares the shard digests stored in the index with the
// manifest.
func checkRows(ctx context.Context, dir string, m Manifest) error {
	db, err := openDB(filepath.Join(dir, IndexName), true)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT bundle_shard, IFNULL(bundle_digest, '') FROM entities WHERE bundle_shard IS NOT NULL")
	if err != nil {
		return fmt.Errorf("packer: verify rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, digest string
		if err := rows.Scan(&name, &digest); err != nil {
			return fmt.Errorf("packer: verify rows: %w", err)
		}
		if want := m.Shards[name]; digest != want {
			return &DigestMismatchError{Name: name, Want: want, Got: digest}
		}
	}
	return rows.Err()
}
