package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/eigerco/flashkv/pkg/native"
)

// MockEngine implements native.Engine for testing. Out parameters are filled
// with Run on the expectation.
type MockEngine struct {
	mock.Mock
}

var _ native.Engine = (*MockEngine)(nil)

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) Open(path string, cfg native.OpenConfig) native.StoreHandle {
	args := m.Called(path, cfg)
	return args.Get(0).(native.StoreHandle)
}

func (m *MockEngine) Close(h native.StoreHandle) bool {
	args := m.Called(h)
	return args.Bool(0)
}

func (m *MockEngine) Destroy(h native.StoreHandle) bool {
	args := m.Called(h)
	return args.Bool(0)
}

func (m *MockEngine) StoreInfo(h native.StoreHandle, info *native.StoreInfo) bool {
	args := m.Called(h, info)
	return args.Bool(0)
}

func (m *MockEngine) CreatePool(h native.StoreHandle, tag []byte) int32 {
	args := m.Called(h, tag)
	return args.Get(0).(int32)
}

func (m *MockEngine) Pools(h native.StoreHandle) ([]native.PoolEntry, bool) {
	args := m.Called(h)
	pools, _ := args.Get(0).([]native.PoolEntry)
	return pools, args.Bool(1)
}

func (m *MockEngine) DeletePool(h native.StoreHandle, pool uint32) bool {
	args := m.Called(h, pool)
	return args.Bool(0)
}

func (m *MockEngine) DeleteAllPools(h native.StoreHandle) bool {
	args := m.Called(h)
	return args.Bool(0)
}

func (m *MockEngine) DeleteAll(h native.StoreHandle) bool {
	args := m.Called(h)
	return args.Bool(0)
}

func (m *MockEngine) ValueLen(h native.StoreHandle, pool uint32, key []byte) int32 {
	args := m.Called(h, pool, key)
	return args.Get(0).(int32)
}

func (m *MockEngine) KeyInfo(h native.StoreHandle, pool uint32, key []byte, info *native.KeyInfo) bool {
	args := m.Called(h, pool, key, info)
	return args.Bool(0)
}

func (m *MockEngine) Get(h native.StoreHandle, pool uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	args := m.Called(h, pool, key, value, info)
	return args.Get(0).(int32)
}

func (m *MockEngine) Put(h native.StoreHandle, pool uint32, key []byte, value []byte, info *native.KeyInfo) int32 {
	args := m.Called(h, pool, key, value, info)
	return args.Get(0).(int32)
}

func (m *MockEngine) Exists(h native.StoreHandle, pool uint32, key []byte, info *native.KeyInfo) int32 {
	args := m.Called(h, pool, key, info)
	return args.Get(0).(int32)
}

func (m *MockEngine) Delete(h native.StoreHandle, pool uint32, key []byte) bool {
	args := m.Called(h, pool, key)
	return args.Bool(0)
}

func (m *MockEngine) BatchGet(h native.StoreHandle, pool uint32, v []native.IOVec) bool {
	args := m.Called(h, pool, v)
	return args.Bool(0)
}

func (m *MockEngine) BatchPut(h native.StoreHandle, pool uint32, v []native.IOVec) bool {
	args := m.Called(h, pool, v)
	return args.Bool(0)
}

func (m *MockEngine) BatchDelete(h native.StoreHandle, pool uint32, v []native.IOVec) bool {
	args := m.Called(h, pool, v)
	return args.Bool(0)
}

func (m *MockEngine) Begin(h native.StoreHandle, pool uint32) int32 {
	args := m.Called(h, pool)
	return args.Get(0).(int32)
}

func (m *MockEngine) Next(h native.StoreHandle, it int32) bool {
	args := m.Called(h, it)
	return args.Bool(0)
}

func (m *MockEngine) Current(h native.StoreHandle, it int32, key []byte, keyLen *uint32, value []byte, info *native.KeyInfo) int32 {
	args := m.Called(h, it, key, keyLen, value, info)
	return args.Get(0).(int32)
}

func (m *MockEngine) End(h native.StoreHandle, it int32) bool {
	args := m.Called(h, it)
	return args.Bool(0)
}

func (m *MockEngine) LastError() native.Errno {
	args := m.Called()
	return args.Get(0).(native.Errno)
}
