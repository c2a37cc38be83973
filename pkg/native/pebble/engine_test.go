package pebble

import (
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/pkg/native"
	"github.com/eigerco/flashkv/pkg/native/nativetest"
)

func TestContract(t *testing.T) {
	nativetest.Run(t, func(t *testing.T) (native.Engine, string) {
		return New(Options{FS: vfs.NewMem(), NoSync: true}), "/tmp/pebble.kv"
	})
}

func TestContractOnDisk(t *testing.T) {
	nativetest.Run(t, func(t *testing.T) (native.Engine, string) {
		return New(Options{}), t.TempDir() + "/store.kv"
	})
}

func TestAsyncPoolDeletion(t *testing.T) {
	e := New(Options{FS: vfs.NewMem(), NoSync: true, DeletionDelay: time.Hour})
	h := e.Open("/tmp/async.kv", native.OpenConfig{})
	require.True(t, h.Valid())

	id := e.CreatePool(h, []byte("doomed"))
	require.Greater(t, id, int32(0))
	require.EqualValues(t, 1, e.Put(h, uint32(id), []byte("k"), []byte("v"), nil))
	require.True(t, e.DeletePool(h, uint32(id)))

	// Gone from the directory at once.
	pools, ok := e.Pools(h)
	require.True(t, ok)
	assert.Empty(t, pools)
	assert.EqualValues(t, -1, e.Exists(h, uint32(id), []byte("k"), nil))
	assert.Equal(t, unix.ENOENT, e.LastError())

	// Still counted until purged.
	var info native.StoreInfo
	require.True(t, e.StoreInfo(h, &info))
	assert.EqualValues(t, 1, info.NumPools)

	// Closing the store cuts the delay short.
	require.True(t, e.Close(h))
	e.Wait()

	h = e.Open("/tmp/async.kv", native.OpenConfig{})
	require.True(t, h.Valid())
	defer e.Close(h)

	require.True(t, e.StoreInfo(h, &info))
	assert.Zero(t, info.NumPools)
	assert.Zero(t, info.NumKeys)

	// Pool ids are not reused.
	next := e.CreatePool(h, []byte("doomed"))
	assert.Greater(t, next, id)
}

func TestPurgeCompletes(t *testing.T) {
	e := New(Options{FS: vfs.NewMem(), NoSync: true})
	h := e.Open("/tmp/purge.kv", native.OpenConfig{})
	require.True(t, h.Valid())
	defer e.Close(h)

	for _, tag := range []string{"a", "b", "c"} {
		id := e.CreatePool(h, []byte(tag))
		require.Greater(t, id, int32(0))
		require.EqualValues(t, 1, e.Put(h, uint32(id), []byte("k"), []byte("v"), nil))
	}
	require.True(t, e.DeleteAllPools(h))
	e.Wait()

	var info native.StoreInfo
	require.True(t, e.StoreInfo(h, &info))
	assert.Zero(t, info.NumPools)
	assert.Zero(t, info.NumKeys)
}

func TestPersistence(t *testing.T) {
	fs := vfs.NewMem()
	cfg := native.OpenConfig{Version: 1, ExpiryMode: native.ExpiryGlobal, ExpirySeconds: 3600, MaxPools: 8}

	first := New(Options{FS: fs})
	h := first.Open("/data/store.kv", cfg)
	require.True(t, h.Valid())
	id := first.CreatePool(h, []byte("profiles"))
	require.Greater(t, id, int32(0))
	require.EqualValues(t, 5, first.Put(h, uint32(id), []byte("alice"), []byte("admin"), &native.KeyInfo{GenCount: 2}))
	require.True(t, first.Close(h))

	second := New(Options{FS: fs})
	h = second.Open("/data/store.kv", cfg)
	require.True(t, h.Valid())
	defer second.Close(h)

	assert.Equal(t, id, second.CreatePool(h, []byte("profiles")))

	var info native.KeyInfo
	buf := make([]byte, 16)
	n := second.Get(h, uint32(id), []byte("alice"), buf, &info)
	require.EqualValues(t, 5, n)
	assert.Equal(t, "admin", string(buf[:n]))
	assert.EqualValues(t, 2, info.GenCount)

	var store native.StoreInfo
	require.True(t, second.StoreInfo(h, &store))
	assert.Equal(t, native.ExpiryGlobal, store.ExpiryMode)
	assert.EqualValues(t, 8, store.MaxPools)
	assert.EqualValues(t, 1, store.NumPools)
}

func TestSharedHandles(t *testing.T) {
	e := New(Options{FS: vfs.NewMem(), NoSync: true})
	a := e.Open("/tmp/shared.kv", native.OpenConfig{})
	b := e.Open("/tmp/shared.kv", native.OpenConfig{})
	require.True(t, a.Valid())
	require.True(t, b.Valid())
	assert.NotEqual(t, a, b)

	require.EqualValues(t, 1, e.Put(a, 0, []byte("k"), []byte("v"), nil))
	require.True(t, e.Close(a))

	// The database stays open for the other handle.
	assert.EqualValues(t, 1, e.Exists(b, 0, []byte("k"), nil))
	require.True(t, e.Close(b))
}

func TestExpiredRecordsAreHidden(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	e := New(Options{FS: vfs.NewMem(), NoSync: true, Now: func() time.Time { return now }})
	h := e.Open("/tmp/ttl.kv", native.OpenConfig{ExpiryMode: native.ExpiryArbitrary})
	require.True(t, h.Valid())
	defer e.Close(h)

	require.EqualValues(t, 1, e.Put(h, 0, []byte("short"), []byte("s"), &native.KeyInfo{Expiry: 1}))
	require.EqualValues(t, 1, e.Put(h, 0, []byte("long"), []byte("l"), &native.KeyInfo{Expiry: 60}))

	now = now.Add(2 * time.Second)

	assert.EqualValues(t, 0, e.Exists(h, 0, []byte("short"), nil))
	assert.EqualValues(t, 1, e.Exists(h, 0, []byte("long"), nil))

	it := e.Begin(h, 0)
	require.GreaterOrEqual(t, it, int32(0))
	key := make([]byte, 16)
	var keyLen uint32
	var seen []string
	for e.Next(h, it) {
		require.GreaterOrEqual(t, e.Current(h, it, key, &keyLen, nil, nil), int32(0))
		seen = append(seen, string(key[:keyLen]))
	}
	assert.Equal(t, []string{"long"}, seen)
	require.True(t, e.End(h, it))

	batch := []native.IOVec{{Key: []byte("long"), Value: make([]byte, 4)}, {Key: []byte("short"), Value: make([]byte, 4)}}
	assert.False(t, e.BatchGet(h, 0, batch))
	assert.Equal(t, unix.ENOENT, e.LastError())
}
