// Package sector allocates the sector aligned memory the flash engine requires
// for every value transfer.
//
// Memory is mapped anonymously outside of the Go heap: it never moves, the
// garbage collector never scans it, and its base address is page aligned,
// which is always a multiple of the sector size.
package sector

import (
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/internal/constants"
)

var (
	mmap   = unix.Mmap
	munmap = unix.Munmap
)

// Buffer is a sector aligned memory region. The zero value and a freed buffer
// hold no memory.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// RoundUp returns n rounded up to the next sector boundary. Anything below one
// sector, including zero, rounds up to one sector.
func RoundUp(n int) int {
	if n <= constants.SectorSize {
		return constants.SectorSize
	}
	return (n + constants.SectorSize - 1) / constants.SectorSize * constants.SectorSize
}

// Allocate returns a buffer able to hold n bytes. Its capacity is n rounded up
// to the next sector boundary. Allocate returns nil when the memory cannot be
// obtained, including for negative or overflowing sizes.
func Allocate(n int) *Buffer {
	if n < 0 || n > math.MaxInt32-constants.SectorSize {
		return nil
	}

	data, err := mmap(-1, 0, RoundUp(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil
	}
	if !Aligned(data) {
		munmap(data) //nolint:errcheck // the mapping is discarded either way
		return nil
	}

	return &Buffer{data: data}
}

// Bytes returns the whole region, or nil once freed.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Cap returns the capacity in bytes, always a multiple of the sector size, or
// zero once freed.
func (b *Buffer) Cap() int {
	return len(b.Bytes())
}

// Freed tells whether the buffer no longer holds memory.
func (b *Buffer) Freed() bool {
	return b.Bytes() == nil
}

// Free releases the memory. Calling Free again, or on a nil buffer, does
// nothing.
func (b *Buffer) Free() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return munmap(data)
}

// Aligned tells whether the first byte of p sits on a sector boundary.
func Aligned(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	return uintptr(unsafe.Pointer(&p[0]))%constants.SectorSize == 0
}
