package kv

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/flashkv/pkg/native"
	"github.com/eigerco/flashkv/pkg/native/memory"
	"github.com/eigerco/flashkv/pkg/native/pebble"
)

type engineCase struct {
	name string
	new  func() native.Engine
}

func engineCases() []engineCase {
	return []engineCase{
		{
			name: "memory",
			new:  func() native.Engine { return memory.New(memory.Options{}) },
		},
		{
			name: "pebble",
			new: func() native.Engine {
				return pebble.New(pebble.Options{FS: vfs.NewMem(), NoSync: true})
			},
		},
	}
}

// runOnEngines runs fn against an opened store on every reference engine.
func runOnEngines(t *testing.T, fn func(t *testing.T, s *Store), opts ...Option) {
	for _, ec := range engineCases() {
		t.Run(ec.name, func(t *testing.T) {
			s := openStore(t, ec.new(), opts...)
			fn(t, s)
		})
	}
}

func openStore(t *testing.T, e native.Engine, opts ...Option) *Store {
	t.Helper()
	s, err := Open(e, "/tmp/kv-test.store", opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func mustKey(t *testing.T, b []byte) Key {
	t.Helper()
	k, err := NewKey(b)
	require.NoError(t, err)
	return k
}

func mustValue(t *testing.T, data []byte) *Value {
	t.Helper()
	v, err := ValueOf(data)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = v.Free()
	})
	return v
}
