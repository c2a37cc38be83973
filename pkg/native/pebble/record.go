package pebble

import (
	"encoding/binary"

	"github.com/eigerco/flashkv/pkg/native"
)

// Prefix constants for every record kind kept in a store's database.
const (
	prefixMeta byte = iota + 1
	prefixPool
	prefixData
)

const (
	recordHeaderSize = 16
	metaSize         = 20
)

// makeKey creates a key from a prefix and a pool id, followed by an optional
// suffix.
func makeKey(prefix byte, pool uint32, suffix []byte) []byte {
	key := make([]byte, 5+len(suffix))
	key[0] = prefix
	binary.BigEndian.PutUint32(key[1:5], pool)
	copy(key[5:], suffix)
	return key
}

func metaKey() []byte {
	return []byte{prefixMeta}
}

func poolKey(pool uint32) []byte {
	return makeKey(prefixPool, pool, nil)
}

func dataKey(pool uint32, key []byte) []byte {
	return makeKey(prefixData, pool, key)
}

// dataBounds returns the key range holding every mapping of a pool.
func dataBounds(pool uint32) (lower, upper []byte) {
	lower = makeKey(prefixData, pool, nil)
	if pool == ^uint32(0) {
		return lower, []byte{prefixData + 1}
	}
	return lower, makeKey(prefixData, pool+1, nil)
}

// record is a stored mapping: a fixed header followed by the value bytes.
type record struct {
	expiry   uint32
	genCount uint32
	deadline int64
	value    []byte
}

func (r record) encode() []byte {
	buf := make([]byte, recordHeaderSize+len(r.value))
	binary.LittleEndian.PutUint32(buf[0:4], r.expiry)
	binary.LittleEndian.PutUint32(buf[4:8], r.genCount)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.deadline))
	copy(buf[recordHeaderSize:], r.value)
	return buf
}

// decodeRecord parses buf. The returned value aliases buf.
func decodeRecord(buf []byte) (record, error) {
	if len(buf) < recordHeaderSize {
		return record{}, ErrCorruptRecord
	}
	return record{
		expiry:   binary.LittleEndian.Uint32(buf[0:4]),
		genCount: binary.LittleEndian.Uint32(buf[4:8]),
		deadline: int64(binary.LittleEndian.Uint64(buf[8:16])),
		value:    buf[recordHeaderSize:],
	}, nil
}

func (r record) info(pool uint32, keyLen int) native.KeyInfo {
	return native.KeyInfo{
		PoolID:   pool,
		KeyLen:   uint32(keyLen),
		ValueLen: uint32(len(r.value)),
		Expiry:   r.expiry,
		GenCount: r.genCount,
	}
}

type meta struct {
	cfg      native.OpenConfig
	nextPool uint32
}

func (m meta) encode() []byte {
	buf := make([]byte, metaSize)
	binary.LittleEndian.PutUint32(buf[0:4], m.cfg.Version)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.cfg.ExpiryMode))
	binary.LittleEndian.PutUint32(buf[8:12], m.cfg.ExpirySeconds)
	binary.LittleEndian.PutUint32(buf[12:16], m.cfg.MaxPools)
	binary.LittleEndian.PutUint32(buf[16:20], m.nextPool)
	return buf
}

func decodeMeta(buf []byte) (meta, error) {
	if len(buf) != metaSize {
		return meta{}, ErrCorruptRecord
	}
	return meta{
		cfg: native.OpenConfig{
			Version:       binary.LittleEndian.Uint32(buf[0:4]),
			ExpiryMode:    native.ExpiryMode(binary.LittleEndian.Uint32(buf[4:8])),
			ExpirySeconds: binary.LittleEndian.Uint32(buf[8:12]),
			MaxPools:      binary.LittleEndian.Uint32(buf[12:16]),
		},
		nextPool: binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}
