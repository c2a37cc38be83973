package kv

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/internal/testutils"
)

func TestPutGetHelloWorld(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		key := KeyFromUint64(42)
		value := mustValue(t, []byte("hello, world\x00"))

		require.NoError(t, pool.Put(key, value))

		found, err := pool.Exists(key, nil)
		require.NoError(t, err)
		assert.True(t, found)

		n, err := pool.ValueLen(key)
		require.NoError(t, err)
		assert.Equal(t, 13, n)

		got, err := pool.Get(key)
		require.NoError(t, err)
		defer got.Free()

		assert.Equal(t, []byte("hello, world\x00"), got.Bytes())
		info := got.Info()
		assert.EqualValues(t, 13, info.ValueLen)
		assert.EqualValues(t, 8, info.KeyLen)
		assert.EqualValues(t, constants.DefaultPoolID, info.PoolID)
	})
}

func TestRoundTripKeyLengths(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		value := mustValue(t, []byte("payload"))

		for length := 1; length <= constants.MaxKeySize; length++ {
			key := mustKey(t, bytes.Repeat([]byte{byte(length)}, length))
			require.NoError(t, pool.Put(key, value), "key length %d", length)

			got, err := pool.Get(key)
			require.NoError(t, err, "key length %d", length)
			assert.Equal(t, []byte("payload"), got.Bytes())
			assert.EqualValues(t, length, got.Info().KeyLen)
			require.NoError(t, got.Free())
		}
	})
}

func TestRoundTripValueSizes(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()

		for i, size := range testutils.Sizes(7, 12, constants.MaxValueSize) {
			t.Run(fmt.Sprintf("%d_bytes", size), func(t *testing.T) {
				key := KeyFromUint32(uint32(i))
				data := testutils.RandomBytes(t, size)
				require.NoError(t, pool.Put(key, mustValue(t, data)))

				got, err := pool.Get(key)
				require.NoError(t, err)
				defer got.Free()
				assert.Equal(t, size, got.Len())
				assert.True(t, bytes.Equal(data, got.Bytes()))
			})
		}
	})
}

func TestEmptyValue(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		key := mustKey(t, []byte("empty"))
		require.NoError(t, pool.Put(key, mustValue(t, nil)))

		got, err := pool.Get(key)
		require.NoError(t, err)
		defer got.Free()
		assert.Zero(t, got.Len())
	})
}

func TestPutReplaces(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		key := mustKey(t, []byte("counter"))

		require.NoError(t, pool.Put(key, mustValue(t, []byte("a much longer first value"))))
		require.NoError(t, pool.Put(key, mustValue(t, []byte("short"))))

		got, err := pool.Get(key)
		require.NoError(t, err)
		defer got.Free()
		assert.Equal(t, []byte("short"), got.Bytes())
	})
}

func TestExistsAndDelete(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		key := mustKey(t, []byte("user:1"))

		found, err := pool.Exists(key, nil)
		require.NoError(t, err)
		assert.False(t, found)

		value := mustValue(t, []byte("alice"))
		value.SetGenCount(3)
		require.NoError(t, pool.Put(key, value))

		var info KeyValueInfo
		found, err = pool.Exists(key, &info)
		require.NoError(t, err)
		require.True(t, found)
		assert.EqualValues(t, 5, info.ValueLen)
		assert.EqualValues(t, 6, info.KeyLen)

		require.NoError(t, pool.Delete(key))
		found, err = pool.Exists(key, nil)
		require.NoError(t, err)
		assert.False(t, found)

		// Removing an unmapped key succeeds.
		require.NoError(t, pool.Delete(key))
	})
}

func TestGetMissingKey(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		key := mustKey(t, []byte("missing"))

		_, err := pool.Get(key)
		assert.ErrorIs(t, err, ErrNotFound)

		_, found, err := pool.KeyInfo(key)
		require.NoError(t, err)
		assert.False(t, found)

		_, err = pool.ValueLen(key)
		var kvErr *Error
		assert.ErrorAs(t, err, &kvErr)
	})
}

func TestKeyInfo(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool, err := s.GetOrCreatePool("meta")
		require.NoError(t, err)
		key := mustKey(t, []byte("k"))
		require.NoError(t, pool.Put(key, mustValue(t, []byte("twelve bytes"))))

		info, found, err := pool.KeyInfo(key)
		require.NoError(t, err)
		require.True(t, found)
		assert.EqualValues(t, 12, info.ValueLen)
		assert.EqualValues(t, 1, info.KeyLen)
		assert.Equal(t, pool.ID(), info.PoolID)
	})
}

func TestPoolsAreIsolated(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		profiles, err := s.GetOrCreatePool("profiles")
		require.NoError(t, err)
		sessions, err := s.GetOrCreatePool("sessions")
		require.NoError(t, err)

		key := KeyFromUint64(1)
		require.NoError(t, profiles.Put(key, mustValue(t, []byte("profile"))))
		require.NoError(t, sessions.Put(key, mustValue(t, []byte("session"))))

		got, err := profiles.Get(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("profile"), got.Bytes())
		require.NoError(t, got.Free())

		got, err = sessions.Get(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("session"), got.Bytes())
		require.NoError(t, got.Free())

		found, err := s.DefaultPool().Exists(key, nil)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestInvalidArguments(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		value := mustValue(t, []byte("v"))

		tests := []struct {
			name    string
			fn      func() error
			wantErr error
		}{
			{
				name:    "put_zero_key",
				fn:      func() error { return pool.Put(Key{}, value) },
				wantErr: ErrInvalidKey,
			},
			{
				name:    "put_nil_value",
				fn:      func() error { return pool.Put(KeyFromUint64(1), nil) },
				wantErr: ErrValueFreed,
			},
			{
				name: "put_freed_value",
				fn: func() error {
					v, err := ValueOf([]byte("gone"))
					if err != nil {
						return err
					}
					_ = v.Free()
					return pool.Put(KeyFromUint64(1), v)
				},
				wantErr: ErrValueFreed,
			},
			{
				name: "get_zero_key",
				fn: func() error {
					_, err := pool.Get(Key{})
					return err
				},
				wantErr: ErrInvalidKey,
			},
			{
				name: "exists_zero_key",
				fn: func() error {
					_, err := pool.Exists(Key{}, nil)
					return err
				},
				wantErr: ErrInvalidKey,
			},
			{
				name:    "delete_zero_key",
				fn:      func() error { return pool.Delete(Key{}) },
				wantErr: ErrInvalidKey,
			},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				assert.ErrorIs(t, tc.fn(), tc.wantErr)
			})
		}
	})
}

func TestForEach(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool, err := s.GetOrCreatePool("walk")
		require.NoError(t, err)

		want := map[string]string{}
		for i := range 20 {
			k := fmt.Sprintf("key-%02d", i)
			v := fmt.Sprintf("value-%d", i*i)
			want[k] = v
			require.NoError(t, pool.Put(mustKey(t, []byte(k)), mustValue(t, []byte(v))))
		}

		got := map[string]string{}
		err = pool.ForEach(func(key Key, value *Value) error {
			got[string(key.Bytes())] = string(value.Bytes())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)

		stop := fmt.Errorf("stop")
		calls := 0
		err = pool.ForEach(func(Key, *Value) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)

		empty, err := s.GetOrCreatePool("empty")
		require.NoError(t, err)
		require.NoError(t, empty.ForEach(func(Key, *Value) error {
			t.Fatal("empty pool yielded a mapping")
			return nil
		}))
	})
}
