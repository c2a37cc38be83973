package kv

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/flashkv/internal/constants"
	"github.com/eigerco/flashkv/internal/sector"
)

func TestNewValue(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantCap int
		wantErr error
	}{
		{name: "empty", size: 0, wantCap: 512},
		{name: "one_byte", size: 1, wantCap: 512},
		{name: "one_sector", size: 512, wantCap: 512},
		{name: "just_over_a_sector", size: 513, wantCap: 1024},
		{name: "hello_world", size: 13, wantCap: 512},
		{name: "max_size", size: constants.MaxValueSize, wantCap: constants.MaxValueSize},
		{name: "too_large", size: constants.MaxValueSize + 1, wantErr: ErrValueTooLarge},
		{name: "negative", size: -1, wantErr: ErrValueTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := NewValue(tc.size)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, v)
				return
			}
			require.NoError(t, err)
			defer v.Free()

			assert.Equal(t, tc.size, v.Len())
			assert.Equal(t, tc.wantCap, v.Cap())
			assert.Len(t, v.Bytes(), tc.size)
			assert.True(t, sector.Aligned(v.raw()))
			assert.EqualValues(t, tc.size, v.Info().ValueLen)
		})
	}
}

func TestValueOf(t *testing.T) {
	data := []byte("hello, world\x00")
	v, err := ValueOf(data)
	require.NoError(t, err)
	defer v.Free()

	assert.Equal(t, data, v.Bytes())
	assert.Equal(t, 13, v.Len())
	assert.Equal(t, 512, v.Cap())

	_, err = ValueOf(make([]byte, constants.MaxValueSize+1))
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestForceSize(t *testing.T) {
	v, err := ValueOf(bytes.Repeat([]byte{1}, 100))
	require.NoError(t, err)
	defer v.Free()

	require.NoError(t, v.ForceSize(10))
	assert.Equal(t, 10, v.Len())
	assert.Len(t, v.Bytes(), 10)
	assert.Equal(t, 512, v.Cap())

	// Growing back within the buffer capacity is allowed.
	require.NoError(t, v.ForceSize(512))
	assert.Equal(t, 512, v.Len())

	assert.ErrorIs(t, v.ForceSize(513), ErrValueTooLarge)
	assert.ErrorIs(t, v.ForceSize(-1), ErrValueTooLarge)

	require.NoError(t, v.Free())
	assert.ErrorIs(t, v.ForceSize(1), ErrValueFreed)
}

func TestValueFree(t *testing.T) {
	a, err := ValueOf([]byte("first"))
	require.NoError(t, err)
	b, err := ValueOf([]byte("second"))
	require.NoError(t, err)
	defer b.Free()

	require.NoError(t, a.Free())
	assert.True(t, a.Freed())
	assert.Nil(t, a.Bytes())
	assert.Zero(t, a.Cap())

	// A second free is a no-op and leaves other values alone.
	require.NoError(t, a.Free())
	require.NoError(t, a.Close())
	assert.Equal(t, []byte("second"), b.Bytes())
	assert.False(t, b.Freed())

	assert.ErrorIs(t, a.usable(), ErrValueFreed)
	var nilValue *Value
	assert.ErrorIs(t, nilValue.usable(), ErrValueFreed)
}

func TestValueMetadata(t *testing.T) {
	v, err := NewValue(8)
	require.NoError(t, err)
	defer v.Free()

	v.SetExpiry(30)
	v.SetGenCount(9)
	assert.Equal(t, KeyValueInfo{ValueLen: 8, Expiry: 30, GenCount: 9}, v.Info())
}

func TestBytesOutliveDroppedValue(t *testing.T) {
	b := func() []byte {
		v, err := ValueOf([]byte("hello, world\x00"))
		require.NoError(t, err)
		return v.Bytes()
	}()

	for range 5 {
		runtime.GC()
	}
	assert.Equal(t, []byte("hello, world\x00"), b)
	b[0] = 'H'
	assert.Equal(t, byte('H'), b[0])
}
