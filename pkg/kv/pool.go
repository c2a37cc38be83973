package kv

import (
	"fmt"
	"sync/atomic"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/native"
)

// Pool is a namespace inside a store, the unit every key/value operation
// targets. Pool 0 is the default pool; created pools carry a tag.
type Pool struct {
	store   *Store
	id      uint32
	tag     Tag
	deleted atomic.Bool
}

func (p *Pool) ID() uint32 {
	return p.id
}

// Tag returns the pool tag, the zero Tag for the default pool.
func (p *Pool) Tag() Tag {
	return p.tag
}

func (p *Pool) Store() *Store {
	return p.store
}

// Deleted tells whether the pool was deleted through its store.
func (p *Pool) Deleted() bool {
	return p.deleted.Load()
}

func (p *Pool) String() string {
	if p.id == constants.DefaultPoolID {
		return "pool(default)"
	}
	return fmt.Sprintf("pool(%d, %s)", p.id, p.tag)
}

func (p *Pool) engine() native.Engine {
	return p.store.engine
}

// handle returns the store handle for an operation on a live pool.
func (p *Pool) handle() (native.StoreHandle, error) {
	if p.deleted.Load() {
		return native.StoreHandle{}, ErrPoolDeleted
	}
	return p.store.snapshot()
}

// Get reads the value mapped to key. The returned value must be freed.
func (p *Pool) Get(key Key) (*Value, error) {
	if err := validateKey(&key); err != nil {
		return nil, err
	}
	h, err := p.handle()
	if err != nil {
		return nil, err
	}

	size := p.engine().ValueLen(h, p.id, key.raw())
	if size < 0 {
		probeErr := p.store.nativeError("get", "unable to read value length of "+key.String())
		found, err := p.Exists(key, nil)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		return nil, probeErr
	}

	v, err := NewValue(int(size))
	if err != nil {
		return nil, err
	}
	var info native.KeyInfo
	n := p.engine().Get(h, p.id, key.raw(), v.Bytes(), &info)
	if n < 0 {
		_ = v.Free()
		return nil, p.store.nativeError("get", "unable to read value of "+key.String())
	}

	v.info = infoFromNative(info)
	v.info.PoolID = p.id
	v.info.KeyLen = uint32(key.Len())
	v.info.ValueLen = uint32(min(int(n), v.Cap()))
	return v, nil
}

// Put maps key to value, replacing any previous mapping. The value's expiry
// and generation count are stored along.
func (p *Pool) Put(key Key, value *Value) error {
	if err := validateKey(&key); err != nil {
		return err
	}
	if err := value.usable(); err != nil {
		return err
	}
	h, err := p.handle()
	if err != nil {
		return err
	}

	value.info.PoolID = p.id
	value.info.KeyLen = uint32(key.Len())
	info := value.info.toNative()

	n := p.engine().Put(h, p.id, key.raw(), value.Bytes(), &info)
	if n < 0 {
		return p.store.nativeError("put", "unable to write value of "+key.String())
	}
	if int(n) != value.Len() {
		err := p.store.nativeError("put", fmt.Sprintf("wrote %d of %d bytes for %s", n, value.Len(), key))
		err.Partial = true
		if !p.engine().Delete(h, p.id, key.raw()) {
			p.store.log.Error().Str("key", key.String()).Uint32("pool", p.id).Msg("unable to remove partially written value")
		}
		return err
	}
	return nil
}

// Exists tells whether key is mapped. When it is and info is not nil, info is
// filled with the mapping's metadata.
func (p *Pool) Exists(key Key, info *KeyValueInfo) (bool, error) {
	if err := validateKey(&key); err != nil {
		return false, err
	}
	h, err := p.handle()
	if err != nil {
		return false, err
	}

	var out native.KeyInfo
	switch p.engine().Exists(h, p.id, key.raw(), &out) {
	case 1:
		if info != nil {
			*info = infoFromNative(out)
		}
		return true, nil
	case 0:
		return false, nil
	default:
		return false, p.store.nativeError("exists", "unable to look up "+key.String())
	}
}

// Delete removes the mapping of key. Removing an unmapped key succeeds.
func (p *Pool) Delete(key Key) error {
	if err := validateKey(&key); err != nil {
		return err
	}
	h, err := p.handle()
	if err != nil {
		return err
	}
	if !p.engine().Delete(h, p.id, key.raw()) {
		return p.store.nativeError("delete", "unable to delete "+key.String())
	}
	return nil
}

// ValueLen returns the length of the value mapped to key without reading it.
func (p *Pool) ValueLen(key Key) (int, error) {
	if err := validateKey(&key); err != nil {
		return 0, err
	}
	h, err := p.handle()
	if err != nil {
		return 0, err
	}
	n := p.engine().ValueLen(h, p.id, key.raw())
	if n < 0 {
		return 0, p.store.nativeError("value length", "unable to read value length of "+key.String())
	}
	return int(n), nil
}

// KeyInfo returns the metadata of the mapping of key. The boolean is false
// when key is not mapped.
func (p *Pool) KeyInfo(key Key) (KeyValueInfo, bool, error) {
	if err := validateKey(&key); err != nil {
		return KeyValueInfo{}, false, err
	}
	h, err := p.handle()
	if err != nil {
		return KeyValueInfo{}, false, err
	}

	var info native.KeyInfo
	if p.engine().KeyInfo(h, p.id, key.raw(), &info) {
		return infoFromNative(info), true, nil
	}
	probeErr := p.store.nativeError("key info", "unable to read metadata of "+key.String())
	found, err := p.Exists(key, nil)
	if err != nil {
		return KeyValueInfo{}, false, err
	}
	if !found {
		return KeyValueInfo{}, false, nil
	}
	return KeyValueInfo{}, false, probeErr
}

// PutBatch writes every pair in one engine call. keys and values must have
// the same length, between 1 and the store's MaxBatchSize.
func (p *Pool) PutBatch(keys []Key, values []*Value) error {
	iov, err := encodeBatch(keys, values, p.store.opts.maxBatchSize)
	if err != nil {
		return err
	}
	h, err := p.handle()
	if err != nil {
		return err
	}
	if !p.engine().BatchPut(h, p.id, iov) {
		return p.store.nativeError("put batch", fmt.Sprintf("unable to write %d pairs", len(iov)))
	}
	scatterBatch(p.id, iov, values)
	return nil
}

// GetBatch reads the values of keys into values in one engine call. Each value
// must be large enough for its mapping; its length is set to what was read.
// The call fails as a whole when any key is not mapped.
func (p *Pool) GetBatch(keys []Key, values []*Value) error {
	iov, err := encodeBatch(keys, values, p.store.opts.maxBatchSize)
	if err != nil {
		return err
	}
	for i := range iov {
		iov[i].Value = values[i].raw()
		iov[i].ValueLen = uint32(len(iov[i].Value))
		iov[i].Replace = false
	}
	h, err := p.handle()
	if err != nil {
		return err
	}
	if !p.engine().BatchGet(h, p.id, iov) {
		return p.store.nativeError("get batch", fmt.Sprintf("unable to read %d pairs", len(iov)))
	}
	scatterBatch(p.id, iov, values)
	return nil
}

// DeleteBatch removes the mappings of keys in one engine call.
func (p *Pool) DeleteBatch(keys []Key) error {
	iov, err := encodeBatch(keys, nil, p.store.opts.maxBatchSize)
	if err != nil {
		return err
	}
	h, err := p.handle()
	if err != nil {
		return err
	}
	if !p.engine().BatchDelete(h, p.id, iov) {
		return p.store.nativeError("delete batch", fmt.Sprintf("unable to delete %d keys", len(iov)))
	}
	return nil
}

// Iterator returns an iterator over the pool's mappings. An empty pool has no
// iterator: both results are nil. ForEach hides that case.
func (p *Pool) Iterator() (*Iterator, error) {
	return newIterator(p)
}

// ForEach calls fn for every mapping of the pool until fn returns an error.
// key and value are only valid during the call.
func (p *Pool) ForEach(fn func(key Key, value *Value) error) error {
	it, err := p.Iterator()
	if err != nil || it == nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Err()
}
