package kv

import (
	"fmt"

	"github.com/eigerco/flashkv/pkg/native"
)

// encodeBatch lays keys and values out as one vector for a batch call. values
// is nil for deletions. Every pair is validated before anything is built, so
// one bad pair rejects the whole batch.
func encodeBatch(keys []Key, values []*Value, maxSize int) ([]native.IOVec, error) {
	if len(keys) < 1 || len(keys) > maxSize {
		return nil, fmt.Errorf("%w: %d pairs, expected 1 to %d", ErrInvalidBatchSize, len(keys), maxSize)
	}
	if values != nil && len(values) != len(keys) {
		return nil, fmt.Errorf("%w: %d keys but %d values", ErrInvalidBatchSize, len(keys), len(values))
	}

	for i := range keys {
		if err := validateKey(&keys[i]); err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		if values == nil {
			continue
		}
		if err := values[i].usable(); err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
	}

	iov := make([]native.IOVec, len(keys))
	for i := range keys {
		iov[i].Key = keys[i].raw()
		if values == nil {
			continue
		}
		v := values[i]
		iov[i].Value = v.Bytes()
		iov[i].ValueLen = v.info.ValueLen
		iov[i].Expiry = v.info.Expiry
		iov[i].GenCount = v.info.GenCount
		iov[i].Replace = true
	}
	return iov, nil
}

// scatterBatch copies the metadata the engine returned back into values. A
// length is never trusted past the value's buffer.
func scatterBatch(pool uint32, iov []native.IOVec, values []*Value) {
	for i, v := range values {
		v.info.PoolID = pool
		v.info.KeyLen = uint32(len(iov[i].Key))
		v.info.ValueLen = min(iov[i].ValueLen, uint32(v.Cap()))
		v.info.Expiry = iov[i].Expiry
		v.info.GenCount = iov[i].GenCount
	}
}
