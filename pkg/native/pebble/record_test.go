package pebble

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/flashkv/pkg/native"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, []byte{prefixPool, 0, 0, 1, 2}, poolKey(258))
	assert.Equal(t, []byte{prefixData, 0, 0, 0, 7, 'k'}, dataKey(7, []byte("k")))

	// Every key of a pool sorts inside its bounds and outside its neighbours'.
	lower, upper := dataBounds(7)
	for _, key := range [][]byte{dataKey(7, []byte{0}), dataKey(7, bytes.Repeat([]byte{0xff}, 128))} {
		assert.True(t, bytes.Compare(key, lower) >= 0)
		assert.True(t, bytes.Compare(key, upper) < 0)
	}
	assert.True(t, bytes.Compare(dataKey(8, []byte{0}), upper) >= 0)

	lower, upper = dataBounds(^uint32(0))
	assert.True(t, bytes.Compare(dataKey(^uint32(0), []byte{0xff}), upper) < 0)
	assert.True(t, bytes.Compare(dataKey(^uint32(0), []byte{0}), lower) >= 0)
}

func TestRecordCodec(t *testing.T) {
	rec := record{expiry: 30, genCount: 4, deadline: 1_700_000_030, value: []byte("payload")}
	buf := rec.encode()
	require.Len(t, buf, recordHeaderSize+7)

	got, err := decodeRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, native.KeyInfo{PoolID: 3, KeyLen: 2, ValueLen: 7, Expiry: 30, GenCount: 4}, got.info(3, 2))

	_, err = decodeRecord(buf[:recordHeaderSize-1])
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestMetaCodec(t *testing.T) {
	m := meta{
		cfg:      native.OpenConfig{Version: 1, ExpiryMode: native.ExpiryGlobal, ExpirySeconds: 60, MaxPools: 16},
		nextPool: 9,
	}
	got, err := decodeMeta(m.encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = decodeMeta([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
