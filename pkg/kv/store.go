package kv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/native"
)

// Store is one key/value store, backed by a device or a file, reached through
// an engine. Open and Close are serialized; every other operation only takes
// a snapshot of the handle and then calls the engine concurrently with its
// peers.
type Store struct {
	engine native.Engine
	path   string
	opts   options
	log    zerolog.Logger

	mu     sync.RWMutex
	handle native.StoreHandle

	poolsMu     sync.Mutex
	byTag       map[Tag]*Pool
	byID        map[uint32]*Pool
	defaultPool *Pool
}

// NewStore returns a closed store for path.
func NewStore(engine native.Engine, path string, opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		engine: engine,
		path:   path,
		opts:   o,
		byTag:  make(map[Tag]*Pool),
		byID:   make(map[uint32]*Pool),
	}
	s.log = o.baseLogger().With().Str("path", path).Logger()
	s.defaultPool = &Pool{store: s, id: constants.DefaultPoolID}
	return s
}

// Open returns an opened store for path.
func Open(engine native.Engine, path string, opts ...Option) (*Store, error) {
	s := NewStore(engine, path, opts...)
	if err := s.Open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens the store. Opening an opened store does nothing.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.open()
}

// open must be called with s.mu held.
func (s *Store) open() error {
	if s.handle.Valid() {
		return nil
	}
	if s.path == "" {
		return fmt.Errorf("%w: empty path", ErrNotOpen)
	}

	h := s.engine.Open(s.path, s.opts.openConfig())
	if !h.Valid() {
		return s.nativeError("open", "unable to open store at "+s.path)
	}
	s.handle = h
	s.log.Debug().Int32("fd", h.FD).Int64("kv", h.KV).Msg("store opened")
	return nil
}

// Close closes the store. The store is closed afterwards even when the
// engine reports a failure, which is then returned.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.handle.Valid() {
		return nil
	}
	h := s.handle
	s.handle = native.StoreHandle{}

	if !s.engine.Close(h) {
		return s.nativeError("close", "unable to close store")
	}
	s.log.Debug().Msg("store closed")
	return nil
}

// Destroy irreversibly removes every pool, key and value of an opened store
// and closes it. For stores outside /dev/ the backing file is removed as well.
// The store is closed afterwards even when the engine fails to destroy it.
func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.handle.Valid() {
		return ErrNotOpen
	}
	h := s.handle
	s.handle = native.StoreHandle{}

	if !s.engine.Destroy(h) {
		err := s.nativeError("destroy", "unable to destroy store")
		if !s.engine.Close(h) {
			s.log.Error().Int32("fd", h.FD).Int64("kv", h.KV).Msg("unable to close store after failed destroy")
		}
		return err
	}
	s.forgetPools()
	if !strings.HasPrefix(s.path, constants.DevicePrefix) {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("kv: destroy: unable to remove %s: %w", s.path, err)
		}
	}
	s.log.Info().Msg("store destroyed")
	return nil
}

func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle.Valid()
}

// Handle returns the engine handle, the zero handle when closed.
func (s *Store) Handle() native.StoreHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

func (s *Store) Path() string {
	return s.path
}

// MaxBatchSize is the largest number of pairs a batch call accepts.
func (s *Store) MaxBatchSize() int {
	return s.opts.maxBatchSize
}

// Info describes the store.
func (s *Store) Info() (StoreInfo, error) {
	h, err := s.snapshot()
	if err != nil {
		return StoreInfo{}, err
	}
	var info StoreInfo
	if !s.engine.StoreInfo(h, &info) {
		return StoreInfo{}, s.nativeError("info", "unable to read store information")
	}
	return info, nil
}

// DefaultPool returns pool 0, which every store has.
func (s *Store) DefaultPool() *Pool {
	return s.defaultPool
}

// GetOrCreatePool returns the pool tagged tag, creating it if needed.
func (s *Store) GetOrCreatePool(tag string) (*Pool, error) {
	t, err := NewTag(tag)
	if err != nil {
		return nil, err
	}
	h, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	s.poolsMu.Lock()
	p, ok := s.byTag[t]
	s.poolsMu.Unlock()
	if ok {
		return p, nil
	}

	id := s.engine.CreatePool(h, t.b[:t.n])
	if id < 0 {
		return nil, s.nativeError("create pool", "unable to create pool "+tag)
	}
	p = s.cachePool(uint32(id), t)
	s.log.Debug().Str("tag", tag).Int32("pool", id).Msg("pool ready")
	return p, nil
}

// Pool returns the pool with the given id.
func (s *Store) Pool(id uint32) (*Pool, error) {
	if id == constants.DefaultPoolID {
		return s.defaultPool, nil
	}

	s.poolsMu.Lock()
	p, ok := s.byID[id]
	s.poolsMu.Unlock()
	if ok {
		return p, nil
	}

	pools, err := s.Pools()
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		if p.id == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrPoolNotFound, id)
}

// Pools lists every created pool, ordered by id. The default pool is not
// part of the list.
func (s *Store) Pools() ([]*Pool, error) {
	h, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	entries, ok := s.engine.Pools(h)
	if !ok {
		return nil, s.nativeError("list pools", "unable to list pools")
	}

	pools := make([]*Pool, 0, len(entries))
	for _, e := range entries {
		t, err := tagFromBytes(e.Tag)
		if err != nil {
			s.log.Warn().Uint32("pool", e.ID).Err(err).Msg("skipping pool with invalid tag")
			continue
		}
		pools = append(pools, s.cachePool(e.ID, t))
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].id < pools[j].id })
	return pools, nil
}

// DeletePool deletes p with every mapping it holds. p is unusable afterwards.
func (s *Store) DeletePool(p *Pool) error {
	if p == nil || p.store != s || p.id == constants.DefaultPoolID {
		return fmt.Errorf("%w: only created pools of this store can be deleted", ErrInvalidPool)
	}
	if p.Deleted() {
		return ErrPoolDeleted
	}
	h, err := s.snapshot()
	if err != nil {
		return err
	}

	target, err := s.deletionTarget(h, 1)
	if err != nil {
		return err
	}
	if !s.engine.DeletePool(h, p.id) {
		return s.nativeError("delete pool", "unable to delete pool "+p.tag.String())
	}
	s.evictPool(p)
	s.log.Debug().Str("tag", p.tag.String()).Uint32("pool", p.id).Msg("pool deleted")

	return s.awaitDeletion(h, target)
}

// DeleteAllPools deletes every created pool. The default pool is kept.
func (s *Store) DeleteAllPools() error {
	h, err := s.snapshot()
	if err != nil {
		return err
	}

	var target uint32
	if !s.engine.DeleteAllPools(h) {
		return s.nativeError("delete all pools", "unable to delete pools")
	}
	s.forgetPools()
	s.log.Debug().Msg("all pools deleted")

	if s.opts.poolDeletion != PoolDeletionSync {
		return nil
	}
	return s.awaitDeletion(h, &target)
}

// Clear removes every mapping of every pool. Pools are kept.
func (s *Store) Clear() error {
	h, err := s.snapshot()
	if err != nil {
		return err
	}
	if !s.engine.DeleteAll(h) {
		return s.nativeError("clear", "unable to remove mappings")
	}
	s.log.Debug().Msg("store cleared")
	return nil
}

// snapshot returns the current handle, or ErrNotOpen.
func (s *Store) snapshot() (native.StoreHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.handle.Valid() {
		return native.StoreHandle{}, ErrNotOpen
	}
	return s.handle, nil
}

// nativeError builds and logs the error for an engine call that just failed.
func (s *Store) nativeError(op, msg string) *Error {
	err := s.readError(op, msg)
	s.logError(err)
	return err
}

// readError is the only reader of the engine's last error slot. It must run
// right after the failed call.
func (s *Store) readError(op, msg string) *Error {
	return &Error{Op: op, Msg: msg, Code: s.engine.LastError()}
}

func (s *Store) logError(err *Error) {
	s.log.Warn().Str("op", err.Op).Uint32("errno", uint32(err.Code)).Msg(err.Msg)
}

func (s *Store) cachePool(id uint32, t Tag) *Pool {
	s.poolsMu.Lock()
	defer s.poolsMu.Unlock()

	if p, ok := s.byID[id]; ok && p.tag == t {
		return p
	}
	p := &Pool{store: s, id: id, tag: t}
	s.byID[id] = p
	s.byTag[t] = p
	return p
}

func (s *Store) evictPool(p *Pool) {
	p.deleted.Store(true)

	s.poolsMu.Lock()
	defer s.poolsMu.Unlock()
	if s.byID[p.id] == p {
		delete(s.byID, p.id)
	}
	if s.byTag[p.tag] == p {
		delete(s.byTag, p.tag)
	}
}

func (s *Store) forgetPools() {
	s.poolsMu.Lock()
	defer s.poolsMu.Unlock()

	for _, p := range s.byID {
		p.deleted.Store(true)
	}
	s.byID = make(map[uint32]*Pool)
	s.byTag = make(map[Tag]*Pool)
}

// deletionTarget returns the pool count to wait for once n pools are deleted,
// or nil when deletions are not awaited.
func (s *Store) deletionTarget(h native.StoreHandle, n uint32) (*uint32, error) {
	if s.opts.poolDeletion != PoolDeletionSync {
		return nil, nil
	}
	var info StoreInfo
	if !s.engine.StoreInfo(h, &info) {
		return nil, s.nativeError("delete pool", "unable to read pool count")
	}
	target := uint32(0)
	if info.NumPools > n {
		target = info.NumPools - n
	}
	return &target, nil
}

// awaitDeletion polls the store until it counts at most target pools.
func (s *Store) awaitDeletion(h native.StoreHandle, target *uint32) error {
	if target == nil {
		return nil
	}

	deadline := time.Now().Add(s.opts.pollTimeout)
	for {
		var info StoreInfo
		if !s.engine.StoreInfo(h, &info) {
			return s.nativeError("delete pool", "unable to read pool count")
		}
		if info.NumPools <= *target {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d pools counted, waiting for %d", ErrDeletionTimeout, info.NumPools, *target)
		}
		time.Sleep(s.opts.pollInterval)
	}
}
