package pebble

import (
	"errors"

	"github.com/cockroachdb/pebble"
	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/pkg/native"
)

var ErrCorruptRecord = errors.New("pebble engine: corrupt record")

const (
	ErrOpenStore      = "unable to open pebble store at %s: %w"
	ErrIteratorCreate = "unable to create pool iterator: %w"
)

// errno translates a pebble error into the code left in the last error slot.
func errno(err error) native.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pebble.ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, pebble.ErrClosed):
		return unix.EBADF
	case errors.Is(err, ErrCorruptRecord):
		return unix.EBADMSG
	default:
		return unix.EIO
	}
}
