package nexus

import (
	"errors"
	"fmt"

	"github.com/hupe1980/nexus/internal/accumulator"
	"github.com/hupe1980/nexus/packer"
	"github.com/hupe1980/nexus/registry"
)

var (
	// ErrAborted is returned when a pipeline step hits an integrity failure.
	// Previously persisted state is left untouched.
	ErrAborted = errors.New("nexus: aborted on integrity failure")
	// ErrBusy is returned when another run holds the working directory.
	ErrBusy = errors.New("nexus: another run holds the working directory")
	// ErrNotFound is returned for unknown entity ids.
	ErrNotFound = errors.New("nexus: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("nexus: closed")
)

// translateError maps component errors onto the root sentinels. The
// original error stays in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, ErrBusy) || errors.Is(err, ErrNotFound) {
		return err
	}

	if errors.Is(err, registry.ErrUntrusted) || errors.Is(err, packer.ErrIntegrity) {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if errors.Is(err, accumulator.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	if errors.Is(err, packer.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
