package kv

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/flashkv/internal/constants"
)

func TestNewKey(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{name: "empty", input: nil, wantErr: true},
		{name: "one_byte", input: []byte{7}},
		{name: "max_size", input: bytes.Repeat([]byte{0xab}, constants.MaxKeySize)},
		{name: "too_long", input: make([]byte, constants.MaxKeySize+1), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k, err := NewKey(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tc.input), k.Len())
			assert.Equal(t, tc.input, k.Bytes())
		})
	}
}

func TestKeyCopiesInput(t *testing.T) {
	input := []byte("mutable")
	k, err := NewKey(input)
	require.NoError(t, err)

	input[0] = 'M'
	assert.Equal(t, []byte("mutable"), k.Bytes())

	out := k.Bytes()
	out[0] = 'X'
	assert.Equal(t, []byte("mutable"), k.Bytes())
}

func TestIntegerKeys(t *testing.T) {
	k := KeyFromUint64(42)
	assert.Equal(t, 8, k.Len())
	assert.Equal(t, binary.NativeEndian.AppendUint64(nil, 42), k.Bytes())

	v, err := k.Uint64()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	_, err = k.Uint32()
	assert.ErrorIs(t, err, ErrInvalidKey)

	k = KeyFromUint32(0xdeadbeef)
	assert.Equal(t, 4, k.Len())
	u, err := k.Uint32()
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, u)

	_, err = k.Uint64()
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHashedKey(t *testing.T) {
	long := bytes.Repeat([]byte("identifier"), 50)
	k := HashedKey(long)
	assert.Equal(t, 32, k.Len())
	assert.Equal(t, k, HashedKey(long))
	assert.NotEqual(t, k, HashedKey(long[1:]))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "6869", mustKey(t, []byte("hi")).String())
	assert.Equal(t, "", Key{}.String())
}

func TestZeroKeyIsInvalid(t *testing.T) {
	var k Key
	assert.ErrorIs(t, validateKey(&k), ErrInvalidKey)
	assert.Zero(t, k.Len())
}
