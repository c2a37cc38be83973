package kv

import (
	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/native"
)

type iteratorState uint8

const (
	iteratorCreated iteratorState = iota
	iteratorHasCurrent
	iteratorExhausted
	iteratorClosed
)

// Iterator walks the mappings of one pool, forward only. It owns a key and a
// maximum size value that every Next overwrites: copy what you need before
// advancing. Close releases the engine cursor and the buffers.
//
//	it, err := pool.Iterator()
//	if err != nil || it == nil {
//		return err
//	}
//	defer it.Close()
//	for it.Next() {
//		use(it.Key(), it.Value().Bytes())
//	}
//	return it.Err()
type Iterator struct {
	pool   *Pool
	handle native.StoreHandle
	cursor int32
	state  iteratorState
	key    Key
	value  *Value
	err    error
}

func newIterator(p *Pool) (*Iterator, error) {
	h, err := p.handle()
	if err != nil {
		return nil, err
	}

	cursor := p.engine().Begin(h, p.id)
	if cursor < 0 {
		err := p.store.readError("iterate", "unable to create cursor on "+p.String())
		if err.Code == 0 || err.Code == unix.ENOENT {
			// The engine refuses cursors over empty pools.
			return nil, nil
		}
		p.store.logError(err)
		return nil, err
	}

	value, err := NewValue(constants.MaxValueSize)
	if err != nil {
		p.engine().End(h, cursor)
		return nil, err
	}
	return &Iterator{pool: p, handle: h, cursor: cursor, value: value}, nil
}

// Next moves to the following mapping. It returns false once the pool is
// exhausted or on failure, reported by Err.
func (it *Iterator) Next() bool {
	if it.state == iteratorExhausted || it.state == iteratorClosed {
		return false
	}

	e := it.pool.engine()
	if !e.Next(it.handle, it.cursor) {
		it.state = iteratorExhausted
		return false
	}

	var keyLen uint32
	var info native.KeyInfo
	n := e.Current(it.handle, it.cursor, it.key.b[:], &keyLen, it.value.raw(), &info)
	if n < 0 || keyLen < 1 || keyLen > constants.MaxKeySize {
		it.err = it.pool.store.nativeError("iterate", "unable to read current mapping of "+it.pool.String())
		it.state = iteratorExhausted
		return false
	}

	it.key.n = uint8(keyLen)
	it.value.info = infoFromNative(info)
	it.value.info.PoolID = it.pool.id
	it.value.info.KeyLen = keyLen
	it.value.info.ValueLen = uint32(min(int(n), it.value.Cap()))
	it.state = iteratorHasCurrent
	return true
}

// Key returns the current key, the zero Key when there is none.
func (it *Iterator) Key() Key {
	if it.state != iteratorHasCurrent {
		return Key{}
	}
	return it.key
}

// Value returns the current value, nil when there is none. It is owned by the
// iterator: do not free it, and do not use it after the next call to Next.
func (it *Iterator) Value() *Value {
	if it.state != iteratorHasCurrent {
		return nil
	}
	return it.value
}

// Err returns the failure that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close ends the iteration. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.state == iteratorClosed {
		return nil
	}
	it.state = iteratorClosed

	var err error
	if !it.pool.engine().End(it.handle, it.cursor) {
		err = it.pool.store.nativeError("iterate", "unable to end cursor on "+it.pool.String())
	}
	if ferr := it.value.Free(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}
