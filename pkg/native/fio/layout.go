//go:build darwin || freebsd || linux

package fio

import (
	"runtime"
	"unsafe"

	"github.com/eigerco/flashkv/pkg/native"
)

// C layouts of the helper's structures on 64-bit targets.

// fio_kv_store_t
type cStore struct {
	fd int32
	_  [4]byte
	kv int64
}

// fio_kv_pool_t
type cPool struct {
	store uintptr
	id    int32
	_     [4]byte
}

// fio_kv_key_t
type cKey struct {
	length uint32
	_      [4]byte
	bytes  uintptr
}

// nvm_kv_key_info_t
type cKeyInfo struct {
	poolID   uint32
	keyLen   uint32
	valueLen uint32
	expiry   uint32
	genCount uint32
}

// fio_kv_value_t
type cValue struct {
	data uintptr
	info uintptr
}

// nvm_kv_iovec_t
type cIOVec struct {
	key      uintptr
	keyLen   uint32
	_        [4]byte
	value    uintptr
	valueLen uint32
	expiry   uint32
	genCount uint32
	replace  uint32
}

// fio_kv_store_info_t
type cStoreInfo struct {
	version    uint32
	numPools   uint32
	maxPools   uint32
	expiryMode uint32
	numKeys    uint64
	freeSpace  uint64
}

// fio_kv_pool_tag_t
type cPoolTag struct {
	id     uint32
	length uint32
	tag    [16]byte
}

// entry copies the tag out. The length comes from the helper and is bounded
// by the tag array.
func (t *cPoolTag) entry() native.PoolEntry {
	n := min(int(t.length), len(t.tag))
	return native.PoolEntry{ID: t.id, Tag: append([]byte(nil), t.tag[:n]...)}
}

func toKeyInfo(c cKeyInfo) native.KeyInfo {
	return native.KeyInfo{
		PoolID:   c.poolID,
		KeyLen:   c.keyLen,
		ValueLen: c.valueLen,
		Expiry:   c.expiry,
		GenCount: c.genCount,
	}
}

func fromKeyInfo(info *native.KeyInfo) cKeyInfo {
	if info == nil {
		return cKeyInfo{}
	}
	return cKeyInfo{
		poolID:   info.PoolID,
		keyLen:   info.KeyLen,
		valueLen: info.ValueLen,
		expiry:   info.Expiry,
		genCount: info.GenCount,
	}
}

// frame holds the structures of one native call. Everything it points to is
// pinned until release, as the helper receives Go memory through uintptrs.
type frame struct {
	pinner runtime.Pinner
}

func (f *frame) ptr(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	f.pinner.Pin(p)
	return uintptr(p)
}

// bytes pins b and returns the address of its first element. Pinning is a
// no-op for value buffers, which live outside the Go heap.
func (f *frame) bytes(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return f.ptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func (f *frame) store(h native.StoreHandle) uintptr {
	return f.ptr(unsafe.Pointer(&cStore{fd: h.FD, kv: h.KV}))
}

func (f *frame) pool(h native.StoreHandle, id uint32) uintptr {
	return f.ptr(unsafe.Pointer(&cPool{store: f.store(h), id: int32(id)}))
}

func (f *frame) key(key []byte) uintptr {
	return f.ptr(unsafe.Pointer(&cKey{length: uint32(len(key)), bytes: f.bytes(key)}))
}

func (f *frame) release() {
	f.pinner.Unpin()
}
