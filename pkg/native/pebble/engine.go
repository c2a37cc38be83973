// Package pebble implements native.Engine on top of pebble. Each store path is
// one pebble database holding the store metadata, the pool directory and the
// mappings of every pool under distinct key prefixes.
//
// Pool deletion is asynchronous: the pool disappears from the directory at
// once, but its mappings are range-deleted in the background and StoreInfo
// keeps counting it until that completes.
package pebble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/log"
	"github.com/eigerco/flashkv/pkg/native"
)

const (
	DefaultCapacity  = 1 << 30
	DefaultCacheSize = 64 * 1024 * 1024 // 64MB
)

// Options configures the engine.
type Options struct {
	// FS is the filesystem stores live on. Defaults to vfs.Default.
	FS vfs.FS
	// Now returns the current time, used for expiry. Defaults to time.Now.
	Now func() time.Time
	// Capacity is the device size used to report free space.
	Capacity uint64
	CacheSize int64
	// NoSync skips the fsync on every write.
	NoSync bool
	// DeletionDelay postpones the background removal of deleted pools.
	DeletionDelay time.Duration
}

type database struct {
	path string
	db   *pebble.DB
	refs int
	meta meta
	// pools maps live pool ids to their tags; tags is the reverse index.
	pools map[uint32]string
	tags  map[string]uint32

	mu       sync.Mutex
	deleting map[uint32]struct{}
	pending  sync.WaitGroup
	closing  chan struct{}
}

type cursor struct {
	kv      int64
	db      *database
	pool    uint32
	iter    *pebble.Iterator
	started bool
	valid   bool
	key     []byte
	rec     record
}

// Engine is a pebble backed native.Engine. It is safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	opts      Options
	writeOpts *pebble.WriteOptions
	dbs       map[string]*database
	handles   map[int64]*database
	cursors   map[int32]*cursor
	nextKV    int64
	nextFD    int32
	nextIt    int32
}

var _ native.Engine = (*Engine)(nil)

// New returns an engine with no store opened.
func New(opts Options) *Engine {
	if opts.FS == nil {
		opts.FS = vfs.Default
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}
	writeOpts := pebble.Sync
	if opts.NoSync {
		writeOpts = pebble.NoSync
	}
	return &Engine{
		opts:      opts,
		writeOpts: writeOpts,
		dbs:       make(map[string]*database),
		handles:   make(map[int64]*database),
		cursors:   make(map[int32]*cursor),
		nextFD:    2,
	}
}

func fail(code native.Errno) {
	native.SetLastError(code)
}

func failErr(op string, err error) {
	if errors.Is(err, pebble.ErrNotFound) {
		fail(unix.ENOENT)
		return
	}
	log.Engine.Error().Err(err).Str("op", op).Msg("pebble operation failed")
	native.SetLastError(errno(err))
}

func (e *Engine) Open(path string, cfg native.OpenConfig) native.StoreHandle {
	if path == "" {
		fail(unix.EINVAL)
		return native.StoreHandle{}
	}
	if cfg.MaxPools == 0 {
		cfg.MaxPools = constants.MaxPools
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.dbs[path]
	if !ok {
		var err error
		d, err = e.openDatabase(path)
		if err != nil {
			failErr("open", err)
			return native.StoreHandle{}
		}
		e.dbs[path] = d
	}
	d.refs++
	if d.meta.cfg != cfg {
		next := d.meta
		next.cfg = cfg
		if err := d.db.Set(metaKey(), next.encode(), e.writeOpts); err != nil {
			failErr("open", err)
			e.release(d)
			return native.StoreHandle{}
		}
		d.meta = next
	}

	e.nextKV++
	e.nextFD++
	e.handles[e.nextKV] = d
	return native.StoreHandle{FD: e.nextFD, KV: e.nextKV}
}

func (e *Engine) openDatabase(path string) (*database, error) {
	cache := pebble.NewCache(e.opts.CacheSize)
	defer cache.Unref()

	pdb, err := pebble.Open(path, &pebble.Options{
		FS:     e.opts.FS,
		Cache:  cache,
		Logger: pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf(ErrOpenStore, path, err)
	}

	d := &database{
		path:     path,
		db:       pdb,
		meta:     meta{nextPool: constants.DefaultPoolID + 1},
		pools:    map[uint32]string{constants.DefaultPoolID: ""},
		tags:     make(map[string]uint32),
		deleting: make(map[uint32]struct{}),
		closing:  make(chan struct{}),
	}
	if err := d.load(); err != nil {
		_ = pdb.Close()
		return nil, err
	}
	return d, nil
}

// load reads the metadata and the pool directory.
func (d *database) load() error {
	value, closer, err := d.db.Get(metaKey())
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return err
	default:
		m, err := decodeMeta(value)
		closer.Close()
		if err != nil {
			return err
		}
		d.meta = m
	}

	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixPool},
		UpperBound: []byte{prefixPool + 1},
	})
	if err != nil {
		return fmt.Errorf(ErrIteratorCreate, err)
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		key := iter.Key()
		if len(key) != 5 {
			return ErrCorruptRecord
		}
		id := binary.BigEndian.Uint32(key[1:5])
		tag := string(iter.Value())
		d.pools[id] = tag
		d.tags[tag] = id
	}
	return iter.Error()
}

// release drops one reference to d, closing it with the last one. Callers
// hold e.mu.
func (e *Engine) release(d *database) {
	if d.refs > 0 {
		d.refs--
	}
	if d.refs > 0 {
		return
	}
	e.dropCursors(func(c *cursor) bool { return c.db == d })
	close(d.closing)
	d.pending.Wait()
	if err := d.db.Close(); err != nil {
		log.Engine.Error().Err(err).Str("path", d.path).Msg("unable to close pebble store")
	}
	delete(e.dbs, d.path)
}

func (e *Engine) Close(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.handles[h.KV]
	if !ok {
		fail(unix.EBADF)
		return false
	}
	delete(e.handles, h.KV)
	e.dropCursors(func(c *cursor) bool { return c.kv == h.KV })
	e.release(d)
	return true
}

func (e *Engine) Destroy(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.handles[h.KV]
	if !ok {
		fail(unix.EBADF)
		return false
	}
	for kv, other := range e.handles {
		if other == d {
			delete(e.handles, kv)
		}
	}
	d.refs = 0
	e.release(d)

	if err := e.opts.FS.RemoveAll(d.path); err != nil {
		failErr("destroy", err)
		return false
	}
	return true
}

func (e *Engine) StoreInfo(h native.StoreHandle, info *native.StoreInfo) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.store(h)
	if !ok {
		return false
	}
	if info == nil {
		fail(unix.EINVAL)
		return false
	}

	keys, err := d.countKeys(e.opts.Now())
	if err != nil {
		failErr("store info", err)
		return false
	}

	d.mu.Lock()
	deleting := len(d.deleting)
	d.mu.Unlock()

	*info = native.StoreInfo{
		Version:    d.meta.cfg.Version,
		NumPools:   uint32(len(d.pools) - 1 + deleting),
		MaxPools:   d.meta.cfg.MaxPools,
		ExpiryMode: d.meta.cfg.ExpiryMode,
		NumKeys:    keys,
	}
	if used := d.db.Metrics().DiskSpaceUsage(); used < e.opts.Capacity {
		info.FreeSpace = e.opts.Capacity - used
	}
	return true
}

// countKeys counts the live mappings of every live pool.
func (d *database) countKeys(now time.Time) (uint64, error) {
	var keys uint64
	for id := range d.pools {
		lower, upper := dataBounds(id)
		iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
		if err != nil {
			return 0, fmt.Errorf(ErrIteratorCreate, err)
		}
		for valid := iter.First(); valid; valid = iter.Next() {
			rec, err := decodeRecord(iter.Value())
			if err != nil {
				iter.Close()
				return 0, err
			}
			if !native.Expired(rec.deadline, now) {
				keys++
			}
		}
		if err := iter.Close(); err != nil {
			return 0, err
		}
	}
	return keys, nil
}

func (e *Engine) CreatePool(h native.StoreHandle, tag []byte) int32 {
	if len(tag) == 0 || len(tag) > constants.MaxTagSize {
		fail(unix.EINVAL)
		return -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.store(h)
	if !ok {
		return -1
	}
	if id, ok := d.tags[string(tag)]; ok {
		return int32(id)
	}
	if uint32(len(d.pools)-1) >= d.meta.cfg.MaxPools {
		fail(unix.ENOSPC)
		return -1
	}

	id := d.meta.nextPool
	next := d.meta
	next.nextPool++

	batch := d.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(poolKey(id), tag, nil); err != nil {
		failErr("create pool", err)
		return -1
	}
	if err := batch.Set(metaKey(), next.encode(), nil); err != nil {
		failErr("create pool", err)
		return -1
	}
	if err := batch.Commit(e.writeOpts); err != nil {
		failErr("create pool", err)
		return -1
	}

	d.meta = next
	d.pools[id] = string(tag)
	d.tags[string(tag)] = id
	return int32(id)
}

func (e *Engine) Pools(h native.StoreHandle) ([]native.PoolEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.store(h)
	if !ok {
		return nil, false
	}
	pools := make([]native.PoolEntry, 0, len(d.pools)-1)
	for id := uint32(1); id < d.meta.nextPool; id++ {
		if tag, ok := d.pools[id]; ok {
			pools = append(pools, native.PoolEntry{ID: id, Tag: []byte(tag)})
		}
	}
	return pools, true
}

func (e *Engine) DeletePool(h native.StoreHandle, id uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.store(h)
	if !ok {
		return false
	}
	if _, ok := d.pools[id]; !ok || id == constants.DefaultPoolID {
		fail(unix.ENOENT)
		return false
	}
	if err := e.deletePool(d, id); err != nil {
		failErr("delete pool", err)
		return false
	}
	return true
}

func (e *Engine) DeleteAllPools(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.store(h)
	if !ok {
		return false
	}
	for id := range d.pools {
		if id == constants.DefaultPoolID {
			continue
		}
		if err := e.deletePool(d, id); err != nil {
			failErr("delete all pools", err)
			return false
		}
	}
	return true
}

// deletePool removes the pool from the directory and schedules the removal of
// its mappings. Callers hold e.mu.
func (e *Engine) deletePool(d *database, id uint32) error {
	if err := d.db.Delete(poolKey(id), e.writeOpts); err != nil {
		return err
	}
	delete(d.tags, d.pools[id])
	delete(d.pools, id)
	e.dropCursors(func(c *cursor) bool { return c.db == d && c.pool == id })

	d.mu.Lock()
	d.deleting[id] = struct{}{}
	d.mu.Unlock()

	d.pending.Add(1)
	go e.purgePool(d, id)
	return nil
}

func (e *Engine) purgePool(d *database, id uint32) {
	defer d.pending.Done()

	if e.opts.DeletionDelay > 0 {
		select {
		case <-time.After(e.opts.DeletionDelay):
		case <-d.closing:
		}
	}

	lower, upper := dataBounds(id)
	if err := d.db.DeleteRange(lower, upper, e.writeOpts); err != nil {
		log.Engine.Error().Err(err).Uint32("pool", id).Msg("unable to purge deleted pool")
	}

	d.mu.Lock()
	delete(d.deleting, id)
	d.mu.Unlock()
	log.Engine.Debug().Str("path", d.path).Uint32("pool", id).Msg("pool purged")
}

// Wait blocks until every scheduled pool removal has completed.
func (e *Engine) Wait() {
	e.mu.RLock()
	dbs := make([]*database, 0, len(e.dbs))
	for _, d := range e.dbs {
		dbs = append(dbs, d)
	}
	e.mu.RUnlock()

	for _, d := range dbs {
		d.pending.Wait()
	}
}

func (e *Engine) DeleteAll(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.store(h)
	if !ok {
		return false
	}
	if err := d.db.DeleteRange([]byte{prefixData}, []byte{prefixData + 1}, e.writeOpts); err != nil {
		failErr("delete all", err)
		return false
	}
	return true
}

func (e *Engine) ValueLen(h native.StoreHandle, id uint32, key []byte) int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var n int32 = -1
	ok := e.lookup(h, id, key, func(rec record) {
		n = int32(len(rec.value))
	})
	if !ok {
		return -1
	}
	return n
}

func (e *Engine) KeyInfo(h native.StoreHandle, id uint32, key []byte, info *native.KeyInfo) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.lookup(h, id, key, func(rec record) {
		if info != nil {
			*info = rec.info(id, len(key))
		}
	})
}

func (e *Engine) Get(h native.StoreHandle, id uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var n int
	ok := e.lookup(h, id, key, func(rec record) {
		n = copy(value, rec.value)
		if info != nil {
			*info = rec.info(id, len(key))
		}
	})
	if !ok {
		return -1
	}
	return int32(n)
}

func (e *Engine) Put(h native.StoreHandle, id uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	if !validKey(key) || len(value) > constants.MaxValueSize {
		fail(unix.EINVAL)
		return -1
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.pool(h, id)
	if !ok {
		return -1
	}
	var expiry, gen uint32
	if info != nil {
		expiry, gen = info.Expiry, info.GenCount
	}
	rec := e.newRecord(d, value, expiry, gen)
	if err := d.db.Set(dataKey(id, key), rec.encode(), e.writeOpts); err != nil {
		failErr("put", err)
		return -1
	}
	return int32(len(value))
}

func (e *Engine) Exists(h native.StoreHandle, id uint32, key []byte, info *native.KeyInfo) int32 {
	if !validKey(key) {
		fail(unix.EINVAL)
		return -1
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.pool(h, id)
	if !ok {
		return -1
	}
	rec, found, err := d.get(id, key, e.opts.Now())
	if err != nil {
		failErr("exists", err)
		return -1
	}
	if !found {
		return 0
	}
	if info != nil {
		*info = rec.info(id, len(key))
	}
	return 1
}

func (e *Engine) Delete(h native.StoreHandle, id uint32, key []byte) bool {
	if !validKey(key) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.pool(h, id)
	if !ok {
		return false
	}
	if err := d.db.Delete(dataKey(id, key), e.writeOpts); err != nil {
		failErr("delete", err)
		return false
	}
	return true
}

func (e *Engine) BatchGet(h native.StoreHandle, id uint32, v []native.IOVec) bool {
	if !validBatch(v, false) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.pool(h, id)
	if !ok {
		return false
	}

	snap := d.db.NewSnapshot()
	defer snap.Close()

	now := e.opts.Now()
	found := make([]record, len(v))
	for i := range v {
		value, closer, err := snap.Get(dataKey(id, v[i].Key))
		if err != nil {
			failErr("batch get", err)
			return false
		}
		rec, err := decodeRecord(value)
		if err == nil {
			rec.value = append([]byte(nil), rec.value...)
		}
		closer.Close()
		if err != nil {
			failErr("batch get", err)
			return false
		}
		if native.Expired(rec.deadline, now) {
			fail(unix.ENOENT)
			return false
		}
		found[i] = rec
	}
	for i, rec := range found {
		v[i].ValueLen = uint32(copy(v[i].Value, rec.value))
		v[i].Expiry = rec.expiry
		v[i].GenCount = rec.genCount
	}
	return true
}

func (e *Engine) BatchPut(h native.StoreHandle, id uint32, v []native.IOVec) bool {
	if !validBatch(v, true) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.pool(h, id)
	if !ok {
		return false
	}

	batch := d.db.NewBatch()
	defer batch.Close()
	for _, iov := range v {
		rec := e.newRecord(d, iov.Value[:iov.ValueLen], iov.Expiry, iov.GenCount)
		if err := batch.Set(dataKey(id, iov.Key), rec.encode(), nil); err != nil {
			failErr("batch put", err)
			return false
		}
	}
	if err := batch.Commit(e.writeOpts); err != nil {
		failErr("batch put", err)
		return false
	}
	return true
}

func (e *Engine) BatchDelete(h native.StoreHandle, id uint32, v []native.IOVec) bool {
	if !validBatch(v, false) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	d, ok := e.pool(h, id)
	if !ok {
		return false
	}

	batch := d.db.NewBatch()
	defer batch.Close()
	for _, iov := range v {
		if err := batch.Delete(dataKey(id, iov.Key), nil); err != nil {
			failErr("batch delete", err)
			return false
		}
	}
	if err := batch.Commit(e.writeOpts); err != nil {
		failErr("batch delete", err)
		return false
	}
	return true
}

func (e *Engine) LastError() native.Errno {
	return native.LastError()
}

// store resolves a handle. Callers hold e.mu.
func (e *Engine) store(h native.StoreHandle) (*database, bool) {
	d, ok := e.handles[h.KV]
	if !ok {
		fail(unix.EBADF)
	}
	return d, ok
}

// pool resolves a live pool of an opened store. Callers hold e.mu.
func (e *Engine) pool(h native.StoreHandle, id uint32) (*database, bool) {
	d, ok := e.store(h)
	if !ok {
		return nil, false
	}
	if _, ok := d.pools[id]; !ok {
		fail(unix.ENOENT)
		return nil, false
	}
	return d, true
}

// lookup hands the live record for key to fn, which must not retain it.
// Callers hold e.mu.
func (e *Engine) lookup(h native.StoreHandle, id uint32, key []byte, fn func(record)) bool {
	if !validKey(key) {
		fail(unix.EINVAL)
		return false
	}
	d, ok := e.pool(h, id)
	if !ok {
		return false
	}

	value, closer, err := d.db.Get(dataKey(id, key))
	if err != nil {
		failErr("get", err)
		return false
	}
	defer closer.Close()

	rec, err := decodeRecord(value)
	if err != nil {
		failErr("get", err)
		return false
	}
	if native.Expired(rec.deadline, e.opts.Now()) {
		fail(unix.ENOENT)
		return false
	}
	fn(rec)
	return true
}

// get returns a copy of the live record for key, if any.
func (d *database) get(id uint32, key []byte, now time.Time) (record, bool, error) {
	value, closer, err := d.db.Get(dataKey(id, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	defer closer.Close()

	rec, err := decodeRecord(value)
	if err != nil {
		return record{}, false, err
	}
	if native.Expired(rec.deadline, now) {
		return record{}, false, nil
	}
	rec.value = append([]byte(nil), rec.value...)
	return rec, true, nil
}

func (e *Engine) newRecord(d *database, value []byte, expiry, gen uint32) record {
	return record{
		expiry:   expiry,
		genCount: gen,
		deadline: native.Deadline(d.meta.cfg, expiry, e.opts.Now()),
		value:    value,
	}
}

func validKey(key []byte) bool {
	return len(key) >= 1 && len(key) <= constants.MaxKeySize
}

func validBatch(v []native.IOVec, withValues bool) bool {
	if len(v) == 0 {
		return false
	}
	for _, iov := range v {
		if !validKey(iov.Key) {
			return false
		}
		if withValues && (iov.ValueLen > uint32(len(iov.Value)) || iov.ValueLen > constants.MaxValueSize) {
			return false
		}
	}
	return true
}

// pebbleLogger routes pebble's own logging to the engine logger.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.Engine.Debug().Msgf(format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Engine.Error().Msgf(format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Engine.Fatal().Msgf(format, args...)
}
