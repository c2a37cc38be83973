package pebble

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/pkg/native"
)

func (e *Engine) Begin(h native.StoreHandle, id uint32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.pool(h, id)
	if !ok {
		return -1
	}

	lower, upper := dataBounds(id)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		failErr("begin", fmt.Errorf(ErrIteratorCreate, err))
		return -1
	}

	c := &cursor{kv: h.KV, db: d, pool: id, iter: iter}
	if !e.advance(c) {
		c.close()
		if err := iter.Error(); err != nil {
			failErr("begin", err)
			return -1
		}
		fail(unix.ENOENT)
		return -1
	}
	// Positioned before the first mapping: the first Next lands on it.
	c.started = false

	e.nextIt++
	e.cursors[e.nextIt] = c
	return e.nextIt
}

func (e *Engine) Next(h native.StoreHandle, it int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.cursor(h, it)
	if !ok {
		return false
	}
	if !e.advance(c) {
		if err := c.iter.Error(); err != nil {
			failErr("next", err)
			return false
		}
		fail(unix.ENOENT)
		return false
	}
	return true
}

// advance moves c to the next live mapping and caches it.
func (e *Engine) advance(c *cursor) bool {
	now := e.opts.Now()

	var valid bool
	switch {
	case !c.started:
		valid = c.iter.First()
	case c.valid:
		valid = c.iter.Next()
	default:
		return false
	}
	c.started = true

	for ; valid; valid = c.iter.Next() {
		rec, err := decodeRecord(c.iter.Value())
		if err != nil || native.Expired(rec.deadline, now) {
			continue
		}
		c.key = append(c.key[:0], c.iter.Key()[5:]...)
		c.rec = rec
		c.rec.value = append([]byte(nil), rec.value...)
		c.valid = true
		return true
	}
	c.valid = false
	return false
}

func (e *Engine) Current(h native.StoreHandle, it int32, key []byte, keyLen *uint32, value []byte, info *native.KeyInfo) int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.cursor(h, it)
	if !ok {
		return -1
	}
	if !c.started || !c.valid {
		fail(unix.ENOENT)
		return -1
	}
	if len(key) < len(c.key) || keyLen == nil {
		fail(unix.EINVAL)
		return -1
	}

	*keyLen = uint32(copy(key, c.key))
	n := copy(value, c.rec.value)
	if info != nil {
		*info = c.rec.info(c.pool, len(c.key))
	}
	return int32(n)
}

func (e *Engine) End(h native.StoreHandle, it int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.cursor(h, it)
	if !ok {
		return false
	}
	c.close()
	delete(e.cursors, it)
	return true
}

func (e *Engine) cursor(h native.StoreHandle, it int32) (*cursor, bool) {
	c, ok := e.cursors[it]
	if !ok || c.kv != h.KV {
		fail(unix.EBADF)
		return nil, false
	}
	return c, true
}

// dropCursors closes and forgets the cursors matching fn. Callers hold e.mu.
func (e *Engine) dropCursors(fn func(*cursor) bool) {
	for id, c := range e.cursors {
		if fn(c) {
			c.close()
			delete(e.cursors, id)
		}
	}
}

func (c *cursor) close() {
	if c.iter == nil {
		return
	}
	if err := c.iter.Close(); err != nil {
		failErr("end", err)
	}
	c.iter = nil
}
