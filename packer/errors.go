package packer

import (
	"errors"
	"fmt"
)

var (
	// ErrShardLimit is returned when a bundle would need more shard files
	// than the configured maximum.
	ErrShardLimit = errors.New("packer: bundle shard limit reached")
	// ErrIntegrity is returned when an artifact fails verification.
	ErrIntegrity = errors.New("packer: integrity check failed")
	// ErrIndexTooLarge is returned when the finished index exceeds the
	// configured size guard.
	ErrIndexTooLarge = errors.New("packer: index exceeds size limit")
	// ErrNotFound is returned by Reader lookups for unknown ids.
	ErrNotFound = errors.New("packer: entity not found")
	// ErrClosed is returned after Finish, Abort or Close.
	ErrClosed = errors.New("packer: closed")
)

// DigestMismatchError reports a file whose digest differs from the
// manifest. It unwraps to ErrIntegrity.
type DigestMismatchError struct {
	Name string
	Want string
	Got  string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("packer: digest mismatch for %s: manifest %s, actual %s", e.Name, e.Want, e.Got)
}

func (e *DigestMismatchError) Unwrap() error { return ErrIntegrity }
