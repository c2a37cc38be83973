package kv

import "github.com/eigerco/flashkv/pkg/native"

// KeyValueInfo is the metadata of a mapping. PoolID, KeyLen and ValueLen are
// set by the engine on reads and by the pool on writes. Expiry and GenCount
// are handed to the engine untouched.
type KeyValueInfo struct {
	PoolID   uint32
	KeyLen   uint32
	ValueLen uint32
	// Expiry is the mapping's time to live in seconds, used when the store
	// expires mappings individually.
	Expiry   uint32
	GenCount uint32
}

func (i KeyValueInfo) toNative() native.KeyInfo {
	return native.KeyInfo(i)
}

func infoFromNative(i native.KeyInfo) KeyValueInfo {
	return KeyValueInfo(i)
}

// StoreInfo describes an opened store. NumPools does not count the default
// pool.
type StoreInfo = native.StoreInfo

type ExpiryMode = native.ExpiryMode

const (
	ExpiryDisabled  = native.ExpiryDisabled
	ExpiryArbitrary = native.ExpiryArbitrary
	ExpiryGlobal    = native.ExpiryGlobal
)
