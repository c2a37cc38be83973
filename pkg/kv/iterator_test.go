package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/internal/testutils"
)

func TestIterateDistinctPairs(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool, err := s.GetOrCreatePool("iterate")
		require.NoError(t, err)

		const n = 40
		want := make(map[string][]byte, n)
		for i, k := range testutils.RandomKeys(t, n, 1+n%constants.MaxKeySize) {
			data := testutils.RandomBytes(t, 1+i*101)
			want[string(k)] = data
			require.NoError(t, pool.Put(mustKey(t, k), mustValue(t, data)))
		}

		it, err := pool.Iterator()
		require.NoError(t, err)
		require.NotNil(t, it)
		defer it.Close()

		got := make(map[string][]byte, n)
		for it.Next() {
			key := it.Key()
			value := it.Value()
			require.NotNil(t, value)
			_, dup := got[string(key.Bytes())]
			require.False(t, dup, "key %s returned twice", key)

			got[string(key.Bytes())] = append([]byte(nil), value.Bytes()...)
			assert.Equal(t, pool.ID(), value.Info().PoolID)
			assert.EqualValues(t, key.Len(), value.Info().KeyLen)
		}
		require.NoError(t, it.Err())
		assert.Equal(t, want, got)

		// Exhausted iterators stay exhausted.
		assert.False(t, it.Next())
		assert.Nil(t, it.Value())
		assert.Zero(t, it.Key().Len())
	})
}

func TestIteratorOnEmptyPool(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool, err := s.GetOrCreatePool("empty")
		require.NoError(t, err)

		it, err := pool.Iterator()
		require.NoError(t, err)
		assert.Nil(t, it)

		it, err = s.DefaultPool().Iterator()
		require.NoError(t, err)
		assert.Nil(t, it)
	})
}

func TestIteratorOnClearedPool(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		key := KeyFromUint64(1)
		require.NoError(t, pool.Put(key, mustValue(t, []byte("v"))))
		require.NoError(t, pool.Delete(key))

		it, err := pool.Iterator()
		require.NoError(t, err)
		assert.Nil(t, it)
	})
}

func TestIteratorBeforeNext(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool := s.DefaultPool()
		require.NoError(t, pool.Put(KeyFromUint64(1), mustValue(t, []byte("v"))))

		it, err := pool.Iterator()
		require.NoError(t, err)
		require.NotNil(t, it)

		assert.Nil(t, it.Value())
		assert.Zero(t, it.Key().Len())

		require.True(t, it.Next())
		assert.Equal(t, KeyFromUint64(1), it.Key())
		assert.Equal(t, []byte("v"), it.Value().Bytes())
		assert.False(t, it.Next())

		require.NoError(t, it.Close())
		require.NoError(t, it.Close())
		assert.False(t, it.Next())
	})
}

func TestIteratorOnDeletedPool(t *testing.T) {
	runOnEngines(t, func(t *testing.T, s *Store) {
		pool, err := s.GetOrCreatePool("deleted")
		require.NoError(t, err)
		require.NoError(t, s.DeletePool(pool))

		_, err = pool.Iterator()
		assert.ErrorIs(t, err, ErrPoolDeleted)
	})
}
