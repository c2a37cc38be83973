package native

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestStoreHandleValid(t *testing.T) {
	assert.False(t, StoreHandle{}.Valid())
	assert.False(t, StoreHandle{FD: 3}.Valid())
	assert.True(t, StoreHandle{FD: 3, KV: 1}.Valid())
}

func TestExpiryModeString(t *testing.T) {
	assert.Equal(t, "disabled", ExpiryDisabled.String())
	assert.Equal(t, "arbitrary", ExpiryArbitrary.String())
	assert.Equal(t, "global", ExpiryGlobal.String())
	assert.Equal(t, "unknown", ExpiryMode(42).String())
}

func TestErrorSlot(t *testing.T) {
	var slot ErrorSlot
	assert.Equal(t, Errno(0), slot.Load())

	slot.Set(unix.ENOENT)
	assert.Equal(t, unix.ENOENT, slot.Load())

	slot.Set(unix.EINVAL)
	assert.Equal(t, unix.EINVAL, slot.Load())
}

func TestLastErrorIsShared(t *testing.T) {
	SetLastError(unix.ENOSPC)
	assert.Equal(t, unix.ENOSPC, LastError())

	// Concurrent writers leave one of their codes behind; which one is not
	// defined.
	var wg sync.WaitGroup
	for _, code := range []Errno{unix.EIO, unix.EBADF} {
		wg.Add(1)
		go func(c Errno) {
			defer wg.Done()
			SetLastError(c)
		}(code)
	}
	wg.Wait()
	assert.Contains(t, []Errno{unix.EIO, unix.EBADF}, LastError())
}
