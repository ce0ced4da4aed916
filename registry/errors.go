package registry

import (
	"errors"
	"fmt"
)

// ErrUntrusted is returned when no registry source meets the floor.
var ErrUntrusted = errors.New("registry: untrusted load")

// ErrClosed is returned by a Writer that has been committed or aborted.
var ErrClosed = errors.New("registry: writer closed")

// FloorError reports a load that fell below the trusted floor.
// It unwraps to ErrUntrusted.
type FloorError struct {
	Count int
	Floor int
}

func (e *FloorError) Error() string {
	return fmt.Sprintf("registry: %d entities below floor %d", e.Count, e.Floor)
}

func (e *FloorError) Unwrap() error { return ErrUntrusted }
