package native

import "sync/atomic"

// ErrorSlot holds the code of the most recent engine failure.
//
// There is one slot per process, shared by every store and every goroutine,
// exactly like errno behind the native helper. The value read after a failure
// belongs to that failure only if no other engine call ran in between; callers
// that need exact attribution must not issue engine calls concurrently. The
// atomic only keeps reads and writes well defined, it does not order calls.
type ErrorSlot struct {
	code atomic.Uint32
}

// Set records code as the last error.
func (s *ErrorSlot) Set(code Errno) {
	s.code.Store(uint32(code))
}

// Load returns the last recorded error, or zero.
func (s *ErrorSlot) Load() Errno {
	return Errno(s.code.Load())
}

var lastError ErrorSlot

// SetLastError records code in the process-wide slot.
func SetLastError(code Errno) {
	lastError.Set(code)
}

// LastError returns the content of the process-wide slot.
func LastError() Errno {
	return lastError.Load()
}
