package kv

import (
	"errors"
	"fmt"

	"github.com/eigerco/flashkv/pkg/native"
)

// Validation errors. They are returned before anything reaches the engine.
var (
	ErrInvalidKey       = errors.New("kv: invalid key")
	ErrValueTooLarge    = errors.New("kv: value too large")
	ErrValueFreed       = errors.New("kv: value is freed")
	ErrInvalidBatchSize = errors.New("kv: invalid batch size")
	ErrInvalidTag       = errors.New("kv: invalid pool tag")
	ErrInvalidPool      = errors.New("kv: invalid pool")
	ErrNotOpen          = errors.New("kv: store is not open")
	ErrPoolDeleted      = errors.New("kv: pool is deleted")
	ErrAllocation       = errors.New("kv: unable to allocate sector-aligned memory")
)

var (
	ErrNotFound        = errors.New("kv: key not found")
	ErrPoolNotFound    = errors.New("kv: pool not found")
	ErrDeletionTimeout = errors.New("kv: pool deletion still pending")
)

// Error is a failure reported by the engine. Code is the engine's last error,
// read right after the failing call; it is zero when none was recorded.
type Error struct {
	Op   string
	Msg  string
	Code native.Errno
	// Partial is set when a write was only partly applied.
	Partial bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("kv: %s: %s", e.Op, e.Msg)
	if e.Partial {
		msg += " (partial write)"
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(": %s (errno %d)", e.Code.Error(), uintptr(e.Code))
	}
	return msg
}

// Unwrap exposes the error code, so errors.Is(err, unix.ENOENT) holds for a
// failure the engine attributed to ENOENT.
func (e *Error) Unwrap() error {
	if e.Code == 0 {
		return nil
	}
	return e.Code
}
