//go:build darwin || freebsd || linux

// Package fio binds native.Engine to the flash key/value helper library
// (libfio_kv_helper) through purego, without cgo.
//
// The helper wraps the device SDK and exposes flat C functions taking the
// structures laid out in layout.go. It does not validate its arguments, so
// callers go through the kv package, which does.
package fio

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/log"
	"github.com/eigerco/flashkv/pkg/native"
)

const LibraryName = "libfio_kv_helper.so"

var ErrLibraryLoad = errors.New("fio: unable to load helper library")

// Note: All pointer parameters use uintptr because purego on ARM64 doesn't
// support structs passed by pointer to Go memory.
type functions struct {
	open           func(path string, version, expiryMode, expirySecs, maxPools uint32, out uintptr) bool
	close          func(store uintptr) bool
	destroy        func(store uintptr) bool
	storeInfo      func(store uintptr, info uintptr) bool
	createPool     func(store uintptr, tag uintptr, tagLen uint32) int32
	poolTags       func(store uintptr, tags uintptr, count uint32) int32
	deletePool     func(store uintptr, id uint32) bool
	deleteAllPools func(store uintptr) bool
	deleteAll      func(store uintptr) bool
	valueLen       func(pool, key uintptr) int32
	keyInfo        func(pool, key, info uintptr) bool
	get            func(pool, key, value uintptr) int32
	put            func(pool, key, value uintptr) int32
	exists         func(pool, key, info uintptr) int32
	delete         func(pool, key uintptr) bool
	batchGet       func(pool, iov uintptr, count uint32) bool
	batchPut       func(pool, iov uintptr, count uint32) bool
	batchDelete    func(pool, iov uintptr, count uint32) bool
	iterator       func(pool uintptr) int32
	next           func(store uintptr, it int32) bool
	current        func(store uintptr, it int32, key, value uintptr) int32
	endIteration   func(store uintptr, it int32) bool
	lastError      func() int32
}

// Engine calls into a loaded helper library.
type Engine struct {
	lib uintptr
	fn  functions
}

var _ native.Engine = (*Engine)(nil)

// Load opens the helper library at path and resolves every symbol it needs.
func Load(path string) (*Engine, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLibraryLoad, path, err)
	}

	e := &Engine{lib: lib}
	symbols := []struct {
		fptr any
		name string
	}{
		{&e.fn.open, "fio_kv_open"},
		{&e.fn.close, "fio_kv_close"},
		{&e.fn.destroy, "fio_kv_destroy"},
		{&e.fn.storeInfo, "fio_kv_get_store_info"},
		{&e.fn.createPool, "fio_kv_get_or_create_pool"},
		{&e.fn.poolTags, "fio_kv_get_pool_tags"},
		{&e.fn.deletePool, "fio_kv_delete_pool"},
		{&e.fn.deleteAllPools, "fio_kv_delete_all_pools"},
		{&e.fn.deleteAll, "fio_kv_delete_all"},
		{&e.fn.valueLen, "fio_kv_get_value_len"},
		{&e.fn.keyInfo, "fio_kv_get_key_info"},
		{&e.fn.get, "fio_kv_get"},
		{&e.fn.put, "fio_kv_put"},
		{&e.fn.exists, "fio_kv_exists"},
		{&e.fn.delete, "fio_kv_delete"},
		{&e.fn.batchGet, "fio_kv_batch_get"},
		{&e.fn.batchPut, "fio_kv_batch_put"},
		{&e.fn.batchDelete, "fio_kv_batch_delete"},
		{&e.fn.iterator, "fio_kv_iterator"},
		{&e.fn.next, "fio_kv_next"},
		{&e.fn.current, "fio_kv_get_current"},
		{&e.fn.endIteration, "fio_kv_end_iteration"},
		{&e.fn.lastError, "fio_kv_get_last_error"},
	}
	for _, s := range symbols {
		sym, err := purego.Dlsym(lib, s.name)
		if err != nil {
			_ = purego.Dlclose(lib)
			return nil, fmt.Errorf("%w: missing symbol %s: %w", ErrLibraryLoad, s.name, err)
		}
		purego.RegisterFunc(s.fptr, sym)
	}

	log.Engine.Info().Str("library", path).Msg("helper library loaded")
	return e, nil
}

// Unload closes the library. The engine must not be used afterwards.
func (e *Engine) Unload() error {
	return purego.Dlclose(e.lib)
}

func (e *Engine) Open(path string, cfg native.OpenConfig) native.StoreHandle {
	if cfg.MaxPools == 0 {
		cfg.MaxPools = constants.MaxPools
	}
	var f frame
	defer f.release()

	var out cStore
	if !e.fn.open(path, cfg.Version, uint32(cfg.ExpiryMode), cfg.ExpirySeconds, cfg.MaxPools, f.ptr(unsafe.Pointer(&out))) {
		return native.StoreHandle{}
	}
	return native.StoreHandle{FD: out.fd, KV: out.kv}
}

func (e *Engine) Close(h native.StoreHandle) bool {
	var f frame
	defer f.release()
	return e.fn.close(f.store(h))
}

func (e *Engine) Destroy(h native.StoreHandle) bool {
	var f frame
	defer f.release()
	return e.fn.destroy(f.store(h))
}

func (e *Engine) StoreInfo(h native.StoreHandle, info *native.StoreInfo) bool {
	if info == nil {
		return false
	}
	var f frame
	defer f.release()

	var out cStoreInfo
	if !e.fn.storeInfo(f.store(h), f.ptr(unsafe.Pointer(&out))) {
		return false
	}
	*info = native.StoreInfo{
		Version:    out.version,
		NumPools:   out.numPools,
		MaxPools:   out.maxPools,
		ExpiryMode: native.ExpiryMode(out.expiryMode),
		NumKeys:    out.numKeys,
		FreeSpace:  out.freeSpace,
	}
	return true
}

func (e *Engine) CreatePool(h native.StoreHandle, tag []byte) int32 {
	var f frame
	defer f.release()
	return e.fn.createPool(f.store(h), f.bytes(tag), uint32(len(tag)))
}

func (e *Engine) Pools(h native.StoreHandle) ([]native.PoolEntry, bool) {
	var f frame
	defer f.release()

	tags := make([]cPoolTag, constants.MaxPools)
	n := e.fn.poolTags(f.store(h), f.ptr(unsafe.Pointer(&tags[0])), uint32(len(tags)))
	if n < 0 {
		return nil, false
	}
	count := min(int(n), len(tags))
	pools := make([]native.PoolEntry, 0, count)
	for i := range tags[:count] {
		pools = append(pools, tags[i].entry())
	}
	return pools, true
}

func (e *Engine) DeletePool(h native.StoreHandle, id uint32) bool {
	var f frame
	defer f.release()
	return e.fn.deletePool(f.store(h), id)
}

func (e *Engine) DeleteAllPools(h native.StoreHandle) bool {
	var f frame
	defer f.release()
	return e.fn.deleteAllPools(f.store(h))
}

func (e *Engine) DeleteAll(h native.StoreHandle) bool {
	var f frame
	defer f.release()
	return e.fn.deleteAll(f.store(h))
}

func (e *Engine) ValueLen(h native.StoreHandle, pool uint32, key []byte) int32 {
	var f frame
	defer f.release()
	return e.fn.valueLen(f.pool(h, pool), f.key(key))
}

func (e *Engine) KeyInfo(h native.StoreHandle, pool uint32, key []byte, info *native.KeyInfo) bool {
	var f frame
	defer f.release()

	var out cKeyInfo
	if !e.fn.keyInfo(f.pool(h, pool), f.key(key), f.ptr(unsafe.Pointer(&out))) {
		return false
	}
	if info != nil {
		*info = toKeyInfo(out)
	}
	return true
}

func (e *Engine) Get(h native.StoreHandle, pool uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	var f frame
	defer f.release()

	out := cKeyInfo{valueLen: uint32(len(value))}
	v := &cValue{data: f.bytes(value), info: f.ptr(unsafe.Pointer(&out))}
	n := e.fn.get(f.pool(h, pool), f.key(key), f.ptr(unsafe.Pointer(v)))
	if n >= 0 && info != nil {
		*info = toKeyInfo(out)
	}
	return n
}

func (e *Engine) Put(h native.StoreHandle, pool uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	var f frame
	defer f.release()

	in := fromKeyInfo(info)
	in.valueLen = uint32(len(value))
	v := &cValue{data: f.bytes(value), info: f.ptr(unsafe.Pointer(&in))}
	return e.fn.put(f.pool(h, pool), f.key(key), f.ptr(unsafe.Pointer(v)))
}

func (e *Engine) Exists(h native.StoreHandle, pool uint32, key []byte, info *native.KeyInfo) int32 {
	var f frame
	defer f.release()

	var out cKeyInfo
	ret := e.fn.exists(f.pool(h, pool), f.key(key), f.ptr(unsafe.Pointer(&out)))
	if ret == 1 && info != nil {
		*info = toKeyInfo(out)
	}
	return ret
}

func (e *Engine) Delete(h native.StoreHandle, pool uint32, key []byte) bool {
	var f frame
	defer f.release()
	return e.fn.delete(f.pool(h, pool), f.key(key))
}

// iovecs lays v out as a C array of nvm_kv_iovec_t.
func (f *frame) iovecs(v []native.IOVec) []cIOVec {
	out := make([]cIOVec, len(v))
	for i, iov := range v {
		out[i] = cIOVec{
			key:      f.bytes(iov.Key),
			keyLen:   uint32(len(iov.Key)),
			value:    f.bytes(iov.Value),
			valueLen: iov.ValueLen,
			expiry:   iov.Expiry,
			genCount: iov.GenCount,
		}
		if iov.Value != nil && iov.ValueLen == 0 {
			out[i].valueLen = uint32(len(iov.Value))
		}
		if iov.Replace {
			out[i].replace = 1
		}
	}
	return out
}

func (e *Engine) BatchGet(h native.StoreHandle, pool uint32, v []native.IOVec) bool {
	if len(v) == 0 {
		return false
	}
	var f frame
	defer f.release()

	iov := f.iovecs(v)
	if !e.fn.batchGet(f.pool(h, pool), f.ptr(unsafe.Pointer(&iov[0])), uint32(len(iov))) {
		return false
	}
	for i := range v {
		v[i].ValueLen = iov[i].valueLen
		v[i].Expiry = iov[i].expiry
		v[i].GenCount = iov[i].genCount
	}
	return true
}

func (e *Engine) BatchPut(h native.StoreHandle, pool uint32, v []native.IOVec) bool {
	if len(v) == 0 {
		return false
	}
	var f frame
	defer f.release()

	iov := f.iovecs(v)
	return e.fn.batchPut(f.pool(h, pool), f.ptr(unsafe.Pointer(&iov[0])), uint32(len(iov)))
}

func (e *Engine) BatchDelete(h native.StoreHandle, pool uint32, v []native.IOVec) bool {
	if len(v) == 0 {
		return false
	}
	var f frame
	defer f.release()

	iov := f.iovecs(v)
	return e.fn.batchDelete(f.pool(h, pool), f.ptr(unsafe.Pointer(&iov[0])), uint32(len(iov)))
}

func (e *Engine) Begin(h native.StoreHandle, pool uint32) int32 {
	var f frame
	defer f.release()
	return e.fn.iterator(f.pool(h, pool))
}

func (e *Engine) Next(h native.StoreHandle, it int32) bool {
	var f frame
	defer f.release()
	return e.fn.next(f.store(h), it)
}

func (e *Engine) Current(h native.StoreHandle, it int32, key []byte, keyLen *uint32, value []byte, info *native.KeyInfo) int32 {
	if keyLen == nil {
		return -1
	}
	var f frame
	defer f.release()

	k := &cKey{length: uint32(len(key)), bytes: f.bytes(key)}
	out := cKeyInfo{valueLen: uint32(len(value))}
	v := &cValue{data: f.bytes(value), info: f.ptr(unsafe.Pointer(&out))}
	n := e.fn.current(f.store(h), it, f.ptr(unsafe.Pointer(k)), f.ptr(unsafe.Pointer(v)))
	if n < 0 {
		return n
	}
	*keyLen = k.length
	if info != nil {
		*info = toKeyInfo(out)
	}
	return n
}

func (e *Engine) End(h native.StoreHandle, it int32) bool {
	var f frame
	defer f.release()
	return e.fn.endIteration(f.store(h), it)
}

func (e *Engine) LastError() native.Errno {
	return native.Errno(e.fn.lastError())
}
