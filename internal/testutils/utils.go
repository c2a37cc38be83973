package testutils

import (
	"crypto/rand"
	"testing"

	exprand "golang.org/x/exp/rand"

	"github.com/stretchr/testify/require"
)

func RandomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// RandomKeys returns n distinct random keys of the given length.
func RandomKeys(t *testing.T, n, length int) [][]byte {
	seen := make(map[string]struct{}, n)
	keys := make([][]byte, 0, n)
	for len(keys) < n {
		k := RandomBytes(t, length)
		if _, ok := seen[string(k)]; ok {
			continue
		}
		seen[string(k)] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Permutation returns a permutation of [0, n) that is stable for a given seed.
func Permutation(seed uint64, n int) []int {
	return exprand.New(exprand.NewSource(seed)).Perm(n)
}

// Sizes returns count lengths drawn from [1, max], seeded, always including
// both bounds.
func Sizes(seed uint64, count, max int) []int {
	r := exprand.New(exprand.NewSource(seed))
	sizes := []int{1, max}
	for len(sizes) < count {
		sizes = append(sizes, 1+r.Intn(max))
	}
	return sizes
}
