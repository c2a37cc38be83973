// Package memory implements native.Engine in process memory, one ordered
// btree per pool. Stores live as long as the Engine and survive Close, so a
// path can be closed and reopened. Pool deletion completes synchronously.
package memory

import (
	"sync"
	"time"

	"github.com/google/btree"
	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/native"
)

const btreeDegree = 32

// DefaultCapacity is the capacity reported when Options.Capacity is zero.
const DefaultCapacity = 1 << 30

// Options configures the engine.
type Options struct {
	// Now returns the current time, used for expiry. Defaults to time.Now.
	Now func() time.Time
	// Capacity is the device size used to report free space.
	Capacity uint64
}

type item struct {
	key      string
	value    []byte
	expiry   uint32
	genCount uint32
	deadline int64
}

func lessItem(a, b item) bool {
	return a.key < b.key
}

type pool struct {
	id    uint32
	tag   string
	items *btree.BTreeG[item]
}

func newPool(id uint32, tag string) *pool {
	return &pool{id: id, tag: tag, items: btree.NewG(btreeDegree, lessItem)}
}

type store struct {
	path     string
	cfg      native.OpenConfig
	pools    map[uint32]*pool
	tags     map[string]uint32
	nextPool uint32
}

type cursor struct {
	kv       int64
	pool     uint32
	snapshot *btree.BTreeG[item]
	started  bool
	current  item
	valid    bool
}

// Engine is an in-memory native.Engine. It is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	opts    Options
	stores  map[string]*store
	handles map[int64]*store
	cursors map[int32]*cursor
	nextKV  int64
	nextFD  int32
	nextIt  int32
}

var _ native.Engine = (*Engine)(nil)

// New returns an empty engine.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Engine{
		opts:    opts,
		stores:  make(map[string]*store),
		handles: make(map[int64]*store),
		cursors: make(map[int32]*cursor),
		nextFD:  2,
	}
}

func fail(code native.Errno) {
	native.SetLastError(code)
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

	s, ok := e.stores[path]
	if !ok {
		s = &store{
			path:     path,
			pools:    map[uint32]*pool{constants.DefaultPoolID: newPool(constants.DefaultPoolID, "")},
			tags:     make(map[string]uint32),
			nextPool: 1,
		}
		e.stores[path] = s
	}
	s.cfg = cfg

	e.nextKV++
	e.nextFD++
	e.handles[e.nextKV] = s
	return native.StoreHandle{FD: e.nextFD, KV: e.nextKV}
}

func (e *Engine) Close(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handles[h.KV]; !ok {
		fail(unix.EBADF)
		return false
	}
	delete(e.handles, h.KV)
	e.dropCursors(func(c *cursor) bool { return c.kv == h.KV })
	return true
}

func (e *Engine) Destroy(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.handles[h.KV]
	if !ok {
		fail(unix.EBADF)
		return false
	}
	delete(e.stores, s.path)
	for kv, other := range e.handles {
		if other == s {
			delete(e.handles, kv)
			e.dropCursors(func(c *cursor) bool { return c.kv == kv })
		}
	}
	return true
}

func (e *Engine) StoreInfo(h native.StoreHandle, info *native.StoreInfo) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.store(h)
	if !ok {
		return false
	}
	if info == nil {
		fail(unix.EINVAL)
		return false
	}

	now := e.opts.Now()
	var keys, used uint64
	for _, p := range s.pools {
		p.items.Ascend(func(it item) bool {
			if !native.Expired(it.deadline, now) {
				keys++
				used += uint64(len(it.key) + len(it.value))
			}
			return true
		})
	}

	*info = native.StoreInfo{
		Version:    s.cfg.Version,
		NumPools:   uint32(len(s.pools) - 1),
		MaxPools:   s.cfg.MaxPools,
		ExpiryMode: s.cfg.ExpiryMode,
		NumKeys:    keys,
	}
	if used < e.opts.Capacity {
		info.FreeSpace = e.opts.Capacity - used
	}
	return true
}

func (e *Engine) CreatePool(h native.StoreHandle, tag []byte) int32 {
	if len(tag) == 0 || len(tag) > constants.MaxTagSize {
		fail(unix.EINVAL)
		return -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.store(h)
	if !ok {
		return -1
	}
	if id, ok := s.tags[string(tag)]; ok {
		return int32(id)
	}
	if uint32(len(s.pools)-1) >= s.cfg.MaxPools {
		fail(unix.ENOSPC)
		return -1
	}

	id := s.nextPool
	s.nextPool++
	s.pools[id] = newPool(id, string(tag))
	s.tags[string(tag)] = id
	return int32(id)
}

func (e *Engine) Pools(h native.StoreHandle) ([]native.PoolEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.store(h)
	if !ok {
		return nil, false
	}
	pools := make([]native.PoolEntry, 0, len(s.pools)-1)
	for id := uint32(1); id < s.nextPool; id++ {
		if p, ok := s.pools[id]; ok {
			pools = append(pools, native.PoolEntry{ID: p.id, Tag: []byte(p.tag)})
		}
	}
	return pools, true
}

func (e *Engine) DeletePool(h native.StoreHandle, id uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.store(h)
	if !ok {
		return false
	}
	p, ok := s.pools[id]
	if !ok || id == constants.DefaultPoolID {
		fail(unix.ENOENT)
		return false
	}
	delete(s.pools, id)
	delete(s.tags, p.tag)
	e.dropCursors(func(c *cursor) bool { return c.kv == h.KV && c.pool == id })
	return true
}

func (e *Engine) DeleteAllPools(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.store(h)
	if !ok {
		return false
	}
	for id := range s.pools {
		if id != constants.DefaultPoolID {
			delete(s.pools, id)
		}
	}
	s.tags = make(map[string]uint32)
	e.dropCursors(func(c *cursor) bool { return c.kv == h.KV && c.pool != constants.DefaultPoolID })
	return true
}

func (e *Engine) DeleteAll(h native.StoreHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.store(h)
	if !ok {
		return false
	}
	for _, p := range s.pools {
		p.items.Clear(false)
	}
	return true
}

func (e *Engine) ValueLen(h native.StoreHandle, id uint32, key []byte) int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	it, ok := e.lookup(h, id, key)
	if !ok {
		return -1
	}
	return int32(len(it.value))
}

func (e *Engine) KeyInfo(h native.StoreHandle, id uint32, key []byte, info *native.KeyInfo) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	it, ok := e.lookup(h, id, key)
	if !ok {
		return false
	}
	if info != nil {
		*info = keyInfo(id, it)
	}
	return true
}

func (e *Engine) Get(h native.StoreHandle, id uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	it, ok := e.lookup(h, id, key)
	if !ok {
		return -1
	}
	n := copy(value, it.value)
	if info != nil {
		*info = keyInfo(id, it)
	}
	return int32(n)
}

func (e *Engine) Put(h native.StoreHandle, id uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	if !validKey(key) || len(value) > constants.MaxValueSize {
		fail(unix.EINVAL)
		return -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, cfg, ok := e.pool(h, id)
	if !ok {
		return -1
	}
	var expiry, gen uint32
	if info != nil {
		expiry, gen = info.Expiry, info.GenCount
	}
	p.items.ReplaceOrInsert(e.newItem(cfg, key, value, expiry, gen))
	return int32(len(value))
}

func (e *Engine) Exists(h native.StoreHandle, id uint32, key []byte, info *native.KeyInfo) int32 {
	if !validKey(key) {
		fail(unix.EINVAL)
		return -1
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	p, _, ok := e.pool(h, id)
	if !ok {
		return -1
	}
	it, found := p.items.Get(item{key: string(key)})
	if !found || native.Expired(it.deadline, e.opts.Now()) {
		return 0
	}
	if info != nil {
		*info = keyInfo(id, it)
	}
	return 1
}

func (e *Engine) Delete(h native.StoreHandle, id uint32, key []byte) bool {
	if !validKey(key) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, _, ok := e.pool(h, id)
	if !ok {
		return false
	}
	p.items.Delete(item{key: string(key)})
	return true
}

func (e *Engine) BatchGet(h native.StoreHandle, id uint32, v []native.IOVec) bool {
	if !validBatch(v, false) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	found := make([]item, len(v))
	for i := range v {
		it, ok := e.lookup(h, id, v[i].Key)
		if !ok {
			return false
		}
		found[i] = it
	}
	for i, it := range found {
		n := copy(v[i].Value, it.value)
		v[i].ValueLen = uint32(n)
		v[i].Expiry = it.expiry
		v[i].GenCount = it.genCount
	}
	return true
}

func (e *Engine) BatchPut(h native.StoreHandle, id uint32, v []native.IOVec) bool {
	if !validBatch(v, true) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, cfg, ok := e.pool(h, id)
	if !ok {
		return false
	}
	for _, iov := range v {
		p.items.ReplaceOrInsert(e.newItem(cfg, iov.Key, iov.Value[:iov.ValueLen], iov.Expiry, iov.GenCount))
	}
	return true
}

func (e *Engine) BatchDelete(h native.StoreHandle, id uint32, v []native.IOVec) bool {
	if !validBatch(v, false) {
		fail(unix.EINVAL)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, _, ok := e.pool(h, id)
	if !ok {
		return false
	}
	for _, iov := range v {
		p.items.Delete(item{key: string(iov.Key)})
	}
	return true
}

func (e *Engine) Begin(h native.StoreHandle, id uint32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, _, ok := e.pool(h, id)
	if !ok {
		return -1
	}

	now := e.opts.Now()
	empty := true
	p.items.Ascend(func(it item) bool {
		empty = native.Expired(it.deadline, now)
		return empty
	})
	if empty {
		fail(unix.ENOENT)
		return -1
	}

	e.nextIt++
	e.cursors[e.nextIt] = &cursor{kv: h.KV, pool: id, snapshot: p.items.Clone()}
	return e.nextIt
}

func (e *Engine) Next(h native.StoreHandle, it int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.cursor(h, it)
	if !ok {
		return false
	}

	now := e.opts.Now()
	visit := func(candidate item) bool {
		if c.started && candidate.key == c.current.key {
			return true
		}
		if native.Expired(candidate.deadline, now) {
			return true
		}
		c.current = candidate
		c.valid = true
		return false
	}

	c.valid = false
	if c.started {
		c.snapshot.AscendGreaterOrEqual(item{key: c.current.key}, visit)
	} else {
		c.snapshot.Ascend(visit)
	}
	c.started = true
	if !c.valid {
		fail(unix.ENOENT)
	}
	return c.valid
}

func (e *Engine) Current(h native.StoreHandle, it int32, key []byte, keyLen *uint32, value []byte, info *native.KeyInfo) int32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.cursor(h, it)
	if !ok {
		return -1
	}
	if !c.valid {
		fail(unix.ENOENT)
		return -1
	}
	if len(key) < len(c.current.key) || keyLen == nil {
		fail(unix.EINVAL)
		return -1
	}

	*keyLen = uint32(copy(key, c.current.key))
	n := copy(value, c.current.value)
	if info != nil {
		*info = keyInfo(c.pool, c.current)
	}
	return int32(n)
}

func (e *Engine) End(h native.StoreHandle, it int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.cursor(h, it); !ok {
		return false
	}
	delete(e.cursors, it)
	return true
}

func (e *Engine) LastError() native.Errno {
	return native.LastError()
}

// store resolves a handle. Callers hold e.mu.
func (e *Engine) store(h native.StoreHandle) (*store, bool) {
	s, ok := e.handles[h.KV]
	if !ok {
		fail(unix.EBADF)
	}
	return s, ok
}

// pool resolves a pool of an opened store. Callers hold e.mu.
func (e *Engine) pool(h native.StoreHandle, id uint32) (*pool, native.OpenConfig, bool) {
	s, ok := e.store(h)
	if !ok {
		return nil, native.OpenConfig{}, false
	}
	p, ok := s.pools[id]
	if !ok {
		fail(unix.ENOENT)
		return nil, native.OpenConfig{}, false
	}
	return p, s.cfg, true
}

// lookup returns the live mapping for key. Callers hold e.mu.
func (e *Engine) lookup(h native.StoreHandle, id uint32, key []byte) (item, bool) {
	if !validKey(key) {
		fail(unix.EINVAL)
		return item{}, false
	}
	p, _, ok := e.pool(h, id)
	if !ok {
		return item{}, false
	}
	it, found := p.items.Get(item{key: string(key)})
	if !found || native.Expired(it.deadline, e.opts.Now()) {
		fail(unix.ENOENT)
		return item{}, false
	}
	return it, true
}

func (e *Engine) cursor(h native.StoreHandle, it int32) (*cursor, bool) {
	c, ok := e.cursors[it]
	if !ok || c.kv != h.KV {
		fail(unix.EBADF)
		return nil, false
	}
	return c, true
}

// dropCursors removes the cursors matching fn. Callers hold e.mu.
func (e *Engine) dropCursors(fn func(*cursor) bool) {
	for id, c := range e.cursors {
		if fn(c) {
			delete(e.cursors, id)
		}
	}
}

func (e *Engine) newItem(cfg native.OpenConfig, key, value []byte, expiry, gen uint32) item {
	return item{
		key:      string(key),
		value:    append([]byte(nil), value...),
		expiry:   expiry,
		genCount: gen,
		deadline: native.Deadline(cfg, expiry, e.opts.Now()),
	}
}

func keyInfo(pool uint32, it item) native.KeyInfo {
	return native.KeyInfo{
		PoolID:   pool,
		KeyLen:   uint32(len(it.key)),
		ValueLen: uint32(len(it.value)),
		Expiry:   it.expiry,
		GenCount: it.genCount,
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
