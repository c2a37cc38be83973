package kv

import (
	"fmt"
	"runtime"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/internal/sector"
	"github.com/eigerco/flashkv/pkg/log"
)

// Value is a value buffer and its metadata. The buffer is sector aligned and
// lives outside the Go heap; it is released by Free (or Close) only. Slices
// returned by Bytes stay valid until then, even once the Value itself is
// unreachable. A Value dropped without being freed leaks its buffer and is
// reported by the garbage collector through log.Root.
//
// A Value must not be used from several goroutines at once.
type Value struct {
	buf  *sector.Buffer
	info KeyValueInfo
}

// NewValue allocates a value of the given length. Its capacity is the length
// rounded up to the next sector.
func NewValue(size int) (*Value, error) {
	if size < 0 || size > constants.MaxValueSize {
		return nil, fmt.Errorf("%w: %d bytes, at most %d", ErrValueTooLarge, size, constants.MaxValueSize)
	}
	buf := sector.Allocate(size)
	if buf == nil {
		return nil, fmt.Errorf("%w: %d bytes", ErrAllocation, size)
	}
	v := &Value{buf: buf, info: KeyValueInfo{ValueLen: uint32(size)}}
	runtime.SetFinalizer(v, (*Value).finalize)
	return v, nil
}

// ValueOf allocates a value holding a copy of data.
func ValueOf(data []byte) (*Value, error) {
	v, err := NewValue(len(data))
	if err != nil {
		return nil, err
	}
	copy(v.Bytes(), data)
	return v, nil
}

// Bytes returns the value's data, Len bytes long, or nil once freed. The slice
// aliases the buffer and is invalid after Free.
func (v *Value) Bytes() []byte {
	b := v.buf.Bytes()
	if b == nil {
		return nil
	}
	return b[:v.info.ValueLen]
}

// Len returns the logical length of the value.
func (v *Value) Len() int {
	return int(v.info.ValueLen)
}

// Cap returns the size of the underlying buffer, zero once freed.
func (v *Value) Cap() int {
	if v.buf.Freed() {
		return 0
	}
	return v.buf.Cap()
}

// ForceSize sets the logical length to n without reallocating.
func (v *Value) ForceSize(n int) error {
	if v.buf.Freed() {
		return ErrValueFreed
	}
	if n < 0 || n > v.buf.Cap() || n > constants.MaxValueSize {
		return fmt.Errorf("%w: cannot size to %d, capacity %d", ErrValueTooLarge, n, v.buf.Cap())
	}
	v.info.ValueLen = uint32(n)
	return nil
}

func (v *Value) Info() KeyValueInfo {
	return v.info
}

func (v *Value) SetExpiry(seconds uint32) {
	v.info.Expiry = seconds
}

func (v *Value) SetGenCount(gen uint32) {
	v.info.GenCount = gen
}

func (v *Value) Freed() bool {
	return v.buf.Freed()
}

// Free releases the buffer. It is safe to call more than once.
func (v *Value) Free() error {
	runtime.SetFinalizer(v, nil)
	return v.buf.Free()
}

// Close is Free, for use with defer.
func (v *Value) Close() error {
	return v.Free()
}

// raw returns the whole buffer, up to its capacity.
func (v *Value) raw() []byte {
	return v.buf.Bytes()
}

// finalize reports a leaked buffer. It must not unmap: slices handed out by
// Bytes may outlive the Value.
func (v *Value) finalize() {
	if v.buf.Freed() {
		return
	}
	log.Root.Warn().Int("capacity", v.buf.Cap()).Msg("value dropped without Free, buffer leaked")
}

// usable checks that v can be handed to the engine.
func (v *Value) usable() error {
	if v == nil || v.buf.Freed() {
		return ErrValueFreed
	}
	if v.info.ValueLen > constants.MaxValueSize {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, v.info.ValueLen)
	}
	return nil
}
