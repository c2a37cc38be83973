package sector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/flashkv/internal/constants"
)

func TestRoundUp(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: 512},
		{in: 1, want: 512},
		{in: 13, want: 512},
		{in: 512, want: 512},
		{in: 513, want: 1024},
		{in: 4096, want: 4096},
		{in: constants.MaxValueSize, want: constants.MaxValueSize},
		{in: constants.MaxValueSize - 1, want: constants.MaxValueSize},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RoundUp(tc.in), "RoundUp(%d)", tc.in)
	}
}

func TestAllocate(t *testing.T) {
	for _, size := range []int{0, 1, 13, 511, 512, 513, 4096, constants.MaxValueSize} {
		b := Allocate(size)
		require.NotNil(t, b, "size %d", size)

		data := b.Bytes()
		assert.True(t, Aligned(data), "size %d is not aligned", size)
		assert.Equal(t, RoundUp(size), b.Cap())
		assert.Zero(t, b.Cap()%constants.SectorSize)

		// The whole region must be writable.
		data[0] = 0x42
		data[len(data)-1] = 0x42

		require.NoError(t, b.Free())
	}
}

func TestAllocateRejectsInvalidSizes(t *testing.T) {
	assert.Nil(t, Allocate(-1))
	assert.Nil(t, Allocate(1<<31))
}

func TestAllocateFailureReturnsNil(t *testing.T) {
	orig := mmap
	t.Cleanup(func() { mmap = orig })

	mmap = func(int, int64, int, int, int) ([]byte, error) {
		return nil, errors.New("out of memory")
	}
	assert.Nil(t, Allocate(42))
}

func TestFreeIsIdempotent(t *testing.T) {
	a := Allocate(100)
	b := Allocate(100)
	require.NotNil(t, a)
	require.NotNil(t, b)
	copy(b.Bytes(), "untouched")

	require.NoError(t, a.Free())
	assert.True(t, a.Freed())
	assert.Nil(t, a.Bytes())
	assert.Zero(t, a.Cap())

	// Second free is a no-op and must not disturb other buffers.
	require.NoError(t, a.Free())
	assert.Equal(t, "untouched", string(b.Bytes()[:9]))
	require.NoError(t, b.Free())

	var nilBuf *Buffer
	assert.NoError(t, nilBuf.Free())
	assert.Nil(t, nilBuf.Bytes())
}

func TestAligned(t *testing.T) {
	assert.False(t, Aligned(nil))

	b := Allocate(1024)
	require.NotNil(t, b)
	defer b.Free() //nolint:errcheck // test cleanup

	assert.True(t, Aligned(b.Bytes()))
	assert.False(t, Aligned(b.Bytes()[1:]))
	assert.True(t, Aligned(b.Bytes()[constants.SectorSize:]))
}
