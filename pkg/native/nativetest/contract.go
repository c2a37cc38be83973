// Package nativetest holds the behaviour every native.Engine must share, as a
// suite engine implementations run from their own tests.
package nativetest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/pkg/native"
)

// Factory returns a fresh engine and the path of a store that does not exist
// yet.
type Factory func(t *testing.T) (native.Engine, string)

// Run exercises engine against the shared contract.
func Run(t *testing.T, newEngine Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, e native.Engine, path string)
	}{
		{name: "open_close", fn: testOpenClose},
		{name: "put_get", fn: testPutGet},
		{name: "short_read", fn: testShortRead},
		{name: "exists_delete", fn: testExistsDelete},
		{name: "key_info", fn: testKeyInfo},
		{name: "pools", fn: testPools},
		{name: "pool_isolation", fn: testPoolIsolation},
		{name: "batches", fn: testBatches},
		{name: "iteration", fn: testIteration},
		{name: "empty_iteration", fn: testEmptyIteration},
		{name: "delete_all", fn: testDeleteAll},
		{name: "store_info", fn: testStoreInfo},
		{name: "reopen", fn: testReopen},
		{name: "destroy", fn: testDestroy},
		{name: "invalid_arguments", fn: testInvalidArguments},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, path := newEngine(t)
			tc.fn(t, e, path)
		})
	}
}

func open(t *testing.T, e native.Engine, path string) native.StoreHandle {
	t.Helper()
	h := e.Open(path, native.OpenConfig{Version: constants.APIVersion})
	require.True(t, h.Valid(), "open %s: %v", path, e.LastError())
	return h
}

func testOpenClose(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	assert.True(t, e.Close(h))

	assert.False(t, e.Close(h))
	assert.Equal(t, unix.EBADF, e.LastError())

	assert.False(t, e.Open("", native.OpenConfig{}).Valid())
	assert.Equal(t, unix.EINVAL, e.LastError())
}

func testPutGet(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	key := []byte("answer")
	value := []byte("hello, world\x00")

	n := e.Put(h, 0, key, value, &native.KeyInfo{GenCount: 7})
	require.EqualValues(t, len(value), n)

	assert.EqualValues(t, len(value), e.ValueLen(h, 0, key))

	buf := make([]byte, 64)
	var info native.KeyInfo
	n = e.Get(h, 0, key, buf, &info)
	require.EqualValues(t, len(value), n)
	assert.Equal(t, value, buf[:n])
	assert.Equal(t, native.KeyInfo{PoolID: 0, KeyLen: 6, ValueLen: 13, GenCount: 7}, info)

	// Replace
	n = e.Put(h, 0, key, []byte("bye"), nil)
	require.EqualValues(t, 3, n)
	n = e.Get(h, 0, key, buf, nil)
	require.EqualValues(t, 3, n)
	assert.Equal(t, []byte("bye"), buf[:n])

	assert.EqualValues(t, -1, e.Get(h, 0, []byte("missing"), buf, nil))
	assert.Equal(t, unix.ENOENT, e.LastError())
	assert.EqualValues(t, -1, e.ValueLen(h, 0, []byte("missing")))
}

func testShortRead(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	require.EqualValues(t, 10, e.Put(h, 0, []byte("k"), []byte("0123456789"), nil))

	buf := make([]byte, 4)
	n := e.Get(h, 0, []byte("k"), buf, nil)
	require.EqualValues(t, 4, n)
	assert.Equal(t, []byte("0123"), buf)
}

func testExistsDelete(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	key := []byte("k")
	assert.EqualValues(t, 0, e.Exists(h, 0, key, nil))

	require.EqualValues(t, 1, e.Put(h, 0, key, []byte("v"), nil))
	var info native.KeyInfo
	assert.EqualValues(t, 1, e.Exists(h, 0, key, &info))
	assert.EqualValues(t, 1, info.ValueLen)

	assert.True(t, e.Delete(h, 0, key))
	assert.EqualValues(t, 0, e.Exists(h, 0, key, nil))

	// Deleting a missing key succeeds.
	assert.True(t, e.Delete(h, 0, key))
}

func testKeyInfo(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	key := []byte("meta")
	require.EqualValues(t, 5, e.Put(h, 0, key, []byte("value"), &native.KeyInfo{GenCount: 3}))

	var info native.KeyInfo
	require.True(t, e.KeyInfo(h, 0, key, &info))
	assert.EqualValues(t, 4, info.KeyLen)
	assert.EqualValues(t, 5, info.ValueLen)
	assert.EqualValues(t, 3, info.GenCount)

	assert.False(t, e.KeyInfo(h, 0, []byte("missing"), &info))
	assert.Equal(t, unix.ENOENT, e.LastError())
}

func testPools(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	id := e.CreatePool(h, []byte("profiles"))
	require.Greater(t, id, int32(0))
	assert.Equal(t, id, e.CreatePool(h, []byte("profiles")))

	other := e.CreatePool(h, []byte("sessions"))
	require.Greater(t, other, int32(0))
	assert.NotEqual(t, id, other)

	pools, ok := e.Pools(h)
	require.True(t, ok)
	assert.Equal(t, []native.PoolEntry{
		{ID: uint32(id), Tag: []byte("profiles")},
		{ID: uint32(other), Tag: []byte("sessions")},
	}, pools)

	assert.EqualValues(t, -1, e.CreatePool(h, make([]byte, constants.MaxTagSize+1)))
	assert.Equal(t, unix.EINVAL, e.LastError())

	require.True(t, e.DeletePool(h, uint32(id)))
	assert.EqualValues(t, -1, e.Put(h, uint32(id), []byte("k"), []byte("v"), nil))
	assert.Equal(t, unix.ENOENT, e.LastError())

	assert.False(t, e.DeletePool(h, 0))
	assert.False(t, e.DeletePool(h, uint32(id)))

	require.True(t, e.DeleteAllPools(h))
	pools, ok = e.Pools(h)
	require.True(t, ok)
	assert.Empty(t, pools)

	// The default pool survives.
	assert.EqualValues(t, 1, e.Put(h, 0, []byte("k"), []byte("v"), nil))
}

func testPoolIsolation(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	a := uint32(e.CreatePool(h, []byte("a")))
	b := uint32(e.CreatePool(h, []byte("b")))

	key := []byte("shared")
	require.EqualValues(t, 1, e.Put(h, a, key, []byte("A"), nil))
	require.EqualValues(t, 2, e.Put(h, b, key, []byte("BB"), nil))

	buf := make([]byte, 8)
	assert.EqualValues(t, 1, e.Get(h, a, key, buf, nil))
	assert.Equal(t, byte('A'), buf[0])
	assert.EqualValues(t, 2, e.Get(h, b, key, buf, nil))
	assert.EqualValues(t, 0, e.Exists(h, 0, key, nil))
}

func testBatches(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	put := make([]native.IOVec, 10)
	for i := range put {
		value := []byte(fmt.Sprintf("value-%d", i))
		put[i] = native.IOVec{
			Key:      []byte(fmt.Sprintf("key-%02d", i)),
			Value:    value,
			ValueLen: uint32(len(value)),
			GenCount: uint32(i),
		}
	}
	require.True(t, e.BatchPut(h, 0, put))

	get := make([]native.IOVec, len(put))
	for i := range get {
		get[i] = native.IOVec{Key: put[i].Key, Value: make([]byte, 32)}
	}
	require.True(t, e.BatchGet(h, 0, get))
	for i := range get {
		assert.Equal(t, put[i].Value, get[i].Value[:get[i].ValueLen])
		assert.EqualValues(t, i, get[i].GenCount)
	}

	require.True(t, e.BatchDelete(h, 0, put[:5]))
	for i := range put {
		want := int32(1)
		if i < 5 {
			want = 0
		}
		assert.Equal(t, want, e.Exists(h, 0, put[i].Key, nil), "key %d", i)
	}

	// A missing key fails the whole read.
	assert.False(t, e.BatchGet(h, 0, get))

	assert.False(t, e.BatchPut(h, 0, nil))
	assert.Equal(t, unix.EINVAL, e.LastError())
}

func testIteration(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	pool := uint32(e.CreatePool(h, []byte("iter")))
	want := map[string]string{}
	for i := 0; i < 25; i++ {
		key, value := fmt.Sprintf("k%03d", i), fmt.Sprintf("v%d", i)
		want[key] = value
		require.EqualValues(t, len(value), e.Put(h, pool, []byte(key), []byte(value), nil))
	}
	require.EqualValues(t, 1, e.Put(h, 0, []byte("other"), []byte("pool"), nil))

	it := e.Begin(h, pool)
	require.GreaterOrEqual(t, it, int32(0))

	key := make([]byte, constants.MaxKeySize)
	value := make([]byte, 64)
	var keyLen uint32

	// Before the first Next there is nothing to read.
	assert.EqualValues(t, -1, e.Current(h, it, key, &keyLen, value, nil))

	got := map[string]string{}
	for e.Next(h, it) {
		var info native.KeyInfo
		n := e.Current(h, it, key, &keyLen, value, &info)
		require.GreaterOrEqual(t, n, int32(0))
		assert.Equal(t, pool, info.PoolID)
		assert.Equal(t, keyLen, info.KeyLen)
		got[string(key[:keyLen])] = string(value[:n])
	}
	assert.Equal(t, want, got)
	assert.True(t, e.End(h, it))
	assert.False(t, e.End(h, it))
}

func testEmptyIteration(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	pool := uint32(e.CreatePool(h, []byte("empty")))
	assert.EqualValues(t, -1, e.Begin(h, pool))

	require.EqualValues(t, 1, e.Put(h, pool, []byte("k"), []byte("v"), nil))
	require.True(t, e.Delete(h, pool, []byte("k")))
	assert.EqualValues(t, -1, e.Begin(h, pool))
}

func testDeleteAll(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	pool := uint32(e.CreatePool(h, []byte("p")))
	require.EqualValues(t, 1, e.Put(h, 0, []byte("a"), []byte("1"), nil))
	require.EqualValues(t, 1, e.Put(h, pool, []byte("b"), []byte("2"), nil))

	require.True(t, e.DeleteAll(h))
	assert.EqualValues(t, 0, e.Exists(h, 0, []byte("a"), nil))
	assert.EqualValues(t, 0, e.Exists(h, pool, []byte("b"), nil))
	assert.Equal(t, int32(pool), e.CreatePool(h, []byte("p")))
}

func testStoreInfo(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	e.CreatePool(h, []byte("one"))
	e.CreatePool(h, []byte("two"))
	for i := 0; i < 3; i++ {
		require.EqualValues(t, 1, e.Put(h, 0, []byte{byte('a' + i)}, []byte("v"), nil))
	}

	var info native.StoreInfo
	require.True(t, e.StoreInfo(h, &info))
	assert.EqualValues(t, constants.APIVersion, info.Version)
	assert.EqualValues(t, 2, info.NumPools)
	assert.EqualValues(t, constants.MaxPools, info.MaxPools)
	assert.Equal(t, native.ExpiryDisabled, info.ExpiryMode)
	assert.EqualValues(t, 3, info.NumKeys)
	assert.NotZero(t, info.FreeSpace)

	assert.False(t, e.StoreInfo(h, nil))
}

func testReopen(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	pool := e.CreatePool(h, []byte("kept"))
	require.EqualValues(t, 4, e.Put(h, uint32(pool), []byte("k"), []byte("kept"), nil))
	require.True(t, e.Close(h))

	h = open(t, e, path)
	defer e.Close(h)

	assert.Equal(t, pool, e.CreatePool(h, []byte("kept")))
	buf := make([]byte, 8)
	assert.EqualValues(t, 4, e.Get(h, uint32(pool), []byte("k"), buf, nil))
}

func testDestroy(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	e.CreatePool(h, []byte("gone"))
	require.EqualValues(t, 1, e.Put(h, 0, []byte("k"), []byte("v"), nil))

	require.True(t, e.Destroy(h))
	assert.False(t, e.Close(h))

	h = open(t, e, path)
	defer e.Close(h)
	assert.EqualValues(t, 0, e.Exists(h, 0, []byte("k"), nil))
	pools, ok := e.Pools(h)
	require.True(t, ok)
	assert.Empty(t, pools)
}

func testInvalidArguments(t *testing.T, e native.Engine, path string) {
	h := open(t, e, path)
	defer e.Close(h)

	assert.EqualValues(t, -1, e.Put(h, 0, nil, []byte("v"), nil))
	assert.Equal(t, unix.EINVAL, e.LastError())

	assert.EqualValues(t, -1, e.Put(h, 0, make([]byte, constants.MaxKeySize+1), []byte("v"), nil))
	assert.Equal(t, unix.EINVAL, e.LastError())

	assert.EqualValues(t, -1, e.Put(h, 0, []byte("k"), make([]byte, constants.MaxValueSize+1), nil))
	assert.Equal(t, unix.EINVAL, e.LastError())

	assert.EqualValues(t, -1, e.Put(h, 99, []byte("k"), []byte("v"), nil))
	assert.Equal(t, unix.ENOENT, e.LastError())

	assert.EqualValues(t, -1, e.Put(native.StoreHandle{FD: 9, KV: 999}, 0, []byte("k"), []byte("v"), nil))
	assert.Equal(t, unix.EBADF, e.LastError())
}
