package kv

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/eigerco/flashkv/internal/constants"
)

// Key identifies a mapping inside a pool. It holds 1 to 128 bytes and is
// immutable. The zero Key is invalid.
type Key struct {
	n uint8
	b [constants.MaxKeySize]byte
}

// NewKey copies b into a Key.
func NewKey(b []byte) (Key, error) {
	if len(b) < 1 || len(b) > constants.MaxKeySize {
		return Key{}, fmt.Errorf("%w: length %d not in [1, %d]", ErrInvalidKey, len(b), constants.MaxKeySize)
	}
	var k Key
	k.n = uint8(len(b))
	copy(k.b[:], b)
	return k, nil
}

// KeyFromUint64 encodes v on 8 bytes in native byte order.
func KeyFromUint64(v uint64) Key {
	k := Key{n: 8}
	binary.NativeEndian.PutUint64(k.b[:8], v)
	return k
}

// KeyFromUint32 encodes v on 4 bytes in native byte order.
func KeyFromUint32(v uint32) Key {
	k := Key{n: 4}
	binary.NativeEndian.PutUint32(k.b[:4], v)
	return k
}

// HashedKey derives a 32-byte key from an identifier of any length.
func HashedKey(id []byte) Key {
	sum := blake2b.Sum256(id)
	k := Key{n: blake2b.Size256}
	copy(k.b[:], sum[:])
	return k
}

func (k Key) Len() int {
	return int(k.n)
}

// Bytes returns a copy of the key bytes.
func (k Key) Bytes() []byte {
	return append([]byte(nil), k.b[:k.n]...)
}

// Uint64 decodes a key built by KeyFromUint64.
func (k Key) Uint64() (uint64, error) {
	if k.n != 8 {
		return 0, fmt.Errorf("%w: length %d is not an uint64", ErrInvalidKey, k.n)
	}
	return binary.NativeEndian.Uint64(k.b[:8]), nil
}

// Uint32 decodes a key built by KeyFromUint32.
func (k Key) Uint32() (uint32, error) {
	if k.n != 4 {
		return 0, fmt.Errorf("%w: length %d is not an uint32", ErrInvalidKey, k.n)
	}
	return binary.NativeEndian.Uint32(k.b[:4]), nil
}

func (k Key) String() string {
	return hex.EncodeToString(k.b[:k.n])
}

func (k *Key) valid() bool {
	return k.n >= 1 && int(k.n) <= constants.MaxKeySize
}

// raw aliases the key bytes. Callers must not modify them.
func (k *Key) raw() []byte {
	return k.b[:k.n]
}

func validateKey(k *Key) error {
	if !k.valid() {
		return fmt.Errorf("%w: length %d not in [1, %d]", ErrInvalidKey, k.n, constants.MaxKeySize)
	}
	return nil
}
