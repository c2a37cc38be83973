// Package native describes the surface of the flash key/value engine as the
// access layer sees it.
//
// Nothing that crosses this boundary is validated by the engine: callers must
// check key sizes, value sizes, alignment and batch sizes beforehand. Failures
// are reported with sentinel return values only (a zero handle, a negative
// count, false); the reason, when there is one, is left in the engine's last
// error slot.
package native

import "golang.org/x/sys/unix"

// Errno is the error code reported by the engine's last error slot.
type Errno = unix.Errno

// ExpiryMode selects how the engine expires mappings.
type ExpiryMode uint32

const (
	ExpiryDisabled  ExpiryMode = iota // Mappings never expire.
	ExpiryArbitrary                   // Each mapping carries its own expiry, in seconds.
	ExpiryGlobal                      // Every mapping expires after the store-wide expiry.
)

func (m ExpiryMode) String() string {
	switch m {
	case ExpiryDisabled:
		return "disabled"
	case ExpiryArbitrary:
		return "arbitrary"
	case ExpiryGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// StoreHandle identifies an opened store. The zero value is the closed
// sentinel.
type StoreHandle struct {
	FD int32
	KV int64
}

// Valid tells whether the handle refers to an opened store.
func (h StoreHandle) Valid() bool {
	return h.KV > 0
}

// OpenConfig carries the parameters the engine needs to create or open a store.
type OpenConfig struct {
	Version       uint32
	ExpiryMode    ExpiryMode
	ExpirySeconds uint32 // Store-wide expiry, only used with ExpiryGlobal.
	MaxPools      uint32
}

// KeyInfo is the metadata attached to a mapping. PoolID, KeyLen and ValueLen
// are filled by the engine on reads. Expiry and GenCount are stored as given
// and handed back untouched.
type KeyInfo struct {
	PoolID   uint32
	KeyLen   uint32
	ValueLen uint32
	Expiry   uint32
	GenCount uint32
}

// StoreInfo describes an opened store. NumPools does not count the default
// pool.
type StoreInfo struct {
	Version    uint32
	NumPools   uint32
	MaxPools   uint32
	ExpiryMode ExpiryMode
	NumKeys    uint64
	FreeSpace  uint64
}

// PoolEntry is one created pool as listed by the engine.
type PoolEntry struct {
	ID  uint32
	Tag []byte
}

// IOVec is one element of a batch call. Value is nil for batch deletes. For
// batch reads the engine writes ValueLen, Expiry and GenCount back.
type IOVec struct {
	Key      []byte
	Value    []byte
	ValueLen uint32
	Expiry   uint32
	GenCount uint32
	Replace  bool
}

// Engine is the flash key/value engine. Pool ids are scoped to the store
// handle they were created on; pool 0 always exists.
type Engine interface {
	// Open creates or opens the store at path. It returns the zero handle on
	// failure.
	Open(path string, cfg OpenConfig) StoreHandle
	Close(h StoreHandle) bool
	// Destroy removes every pool, key and value of the store and closes it.
	Destroy(h StoreHandle) bool
	StoreInfo(h StoreHandle, info *StoreInfo) bool

	// CreatePool returns the id of the pool tagged tag, creating it when
	// needed, or -1.
	CreatePool(h StoreHandle, tag []byte) int32
	Pools(h StoreHandle) ([]PoolEntry, bool)
	// DeletePool schedules the removal of a pool and its mappings. The pool
	// stops accepting operations at once, but StoreInfo may keep counting it
	// until the removal completes.
	DeletePool(h StoreHandle, pool uint32) bool
	DeleteAllPools(h StoreHandle) bool
	// DeleteAll removes every mapping of every pool, keeping the pools.
	DeleteAll(h StoreHandle) bool

	// ValueLen returns the length of the value mapped to key, or -1.
	ValueLen(h StoreHandle, pool uint32, key []byte) int32
	KeyInfo(h StoreHandle, pool uint32, key []byte, info *KeyInfo) bool
	// Get reads at most len(value) bytes into value. It returns the number of
	// bytes read, or -1.
	Get(h StoreHandle, pool uint32, key []byte, value []byte, info *KeyInfo) int32
	// Put maps key to value, replacing any existing mapping, using the expiry
	// and generation count from info. It returns the number of bytes written,
	// or -1.
	Put(h StoreHandle, pool uint32, key []byte, value []byte, info *KeyInfo) int32
	// Exists returns 1 if a mapping exists, 0 if not, -1 on failure. info may
	// be nil.
	Exists(h StoreHandle, pool uint32, key []byte, info *KeyInfo) int32
	Delete(h StoreHandle, pool uint32, key []byte) bool

	BatchGet(h StoreHandle, pool uint32, v []IOVec) bool
	BatchPut(h StoreHandle, pool uint32, v []IOVec) bool
	BatchDelete(h StoreHandle, pool uint32, v []IOVec) bool

	// Begin returns a cursor positioned before the first mapping of the pool,
	// or -1. It fails on an empty pool.
	Begin(h StoreHandle, pool uint32) int32
	Next(h StoreHandle, it int32) bool
	// Current copies the mapping under the cursor into key and value, setting
	// keyLen. It returns the value length, or -1.
	Current(h StoreHandle, it int32, key []byte, keyLen *uint32, value []byte, info *KeyInfo) int32
	End(h StoreHandle, it int32) bool

	// LastError returns the code of the most recent failure. See ErrorSlot.
	LastError() Errno
}
