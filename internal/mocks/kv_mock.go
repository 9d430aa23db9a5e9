package mocks

import (
	"context"

	"skkn-server/internal/store"

	"github.com/stretchr/testify/mock"
)

// MockKV is a mock type for the store.KV type
type MockKV struct {
	mock.Mock
}

// Get provides a mock function with given fields: ctx, key
func (_m *MockKV) Get(ctx context.Context, key string) ([]byte, error) {
	ret := _m.Called(ctx, key)

	var r0 []byte
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}
	return r0, ret.Error(1)
}

// Set provides a mock function with given fields: ctx, key, value
func (_m *MockKV) Set(ctx context.Context, key string, value []byte) error {
	ret := _m.Called(ctx, key, value)
	return ret.Error(0)
}

// SetMany provides a mock function with given fields: ctx, entries
func (_m *MockKV) SetMany(ctx context.Context, entries map[string][]byte) error {
	ret := _m.Called(ctx, entries)
	return ret.Error(0)
}

// Delete provides a mock function with given fields: ctx, key
func (_m *MockKV) Delete(ctx context.Context, key string) error {
	ret := _m.Called(ctx, key)
	return ret.Error(0)
}

// NewMockKV creates a new instance of MockKV. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockKV(t interface {
	mock.TestingT
	Helper()
}) *MockKV {
	m := &MockKV{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ store.KV = (*MockKV)(nil)
