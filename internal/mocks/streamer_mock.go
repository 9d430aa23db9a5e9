package mocks

import (
	"context"

	"skkn-server/internal/ai"

	"github.com/stretchr/testify/mock"
)

// MockStreamer is a mock type for the ai.Streamer type
type MockStreamer struct {
	mock.Mock
}

// Stream provides a mock function with given fields: ctx, req, onChunk
func (_m *MockStreamer) Stream(ctx context.Context, req ai.Request, onChunk ai.ChunkHandler) (ai.Usage, error) {
	ret := _m.Called(ctx, req, onChunk)

	var r0 ai.Usage
	if rf, ok := ret.Get(0).(func(context.Context, ai.Request, ai.ChunkHandler) ai.Usage); ok {
		r0 = rf(ctx, req, onChunk)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(ai.Usage)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, ai.Request, ai.ChunkHandler) error); ok {
		r1 = rf(ctx, req, onChunk)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// NewMockStreamer creates a new instance of MockStreamer. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockStreamer(t interface {
	mock.TestingT
	Helper()
}) *MockStreamer {
	m := &MockStreamer{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.Streamer = (*MockStreamer)(nil)
