package kv

import (
	"fmt"

	"github.com/eigerco/flashkv/internal/constants"
)

// Tag names a pool. It holds 1 to 16 bytes and is comparable.
type Tag struct {
	n uint8
	b [constants.MaxTagSize]byte
}

func NewTag(tag string) (Tag, error) {
	if len(tag) < 1 || len(tag) > constants.MaxTagSize {
		return Tag{}, fmt.Errorf("%w: length %d not in [1, %d]", ErrInvalidTag, len(tag), constants.MaxTagSize)
	}
	var t Tag
	t.n = uint8(len(tag))
	copy(t.b[:], tag)
	return t, nil
}

func tagFromBytes(b []byte) (Tag, error) {
	return NewTag(string(b))
}

func (t Tag) Len() int {
	return int(t.n)
}

func (t Tag) Bytes() []byte {
	return append([]byte(nil), t.b[:t.n]...)
}

func (t Tag) String() string {
	return string(t.b[:t.n])
}

// IsZero tells whether t is the empty tag of the default pool.
func (t Tag) IsZero() bool {
	return t.n == 0
}
