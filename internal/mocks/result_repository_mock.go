package mocks

import (
	"context"

	"skkn-server/internal/model"
	"skkn-server/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockResultRepository is a mock type for the ResultRepository type
type MockResultRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, result
func (_m *MockResultRepository) Save(ctx context.Context, result *model.GenerationResult) error {
	ret := _m.Called(ctx, result)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.GenerationResult) error); ok {
		r0 = rf(ctx, result)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// ListBySession provides a mock function with given fields: ctx, sessionID, limit
func (_m *MockResultRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*model.GenerationResult, error) {
	ret := _m.Called(ctx, sessionID, limit)

	var r0 []*model.GenerationResult
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID, int) []*model.GenerationResult); ok {
		r0 = rf(ctx, sessionID, limit)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]*model.GenerationResult)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, uuid.UUID, int) error); ok {
		r1 = rf(ctx, sessionID, limit)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockResultRepository creates a new instance of MockResultRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockResultRepository(t interface {
	mock.TestingT
	Helper()
}) *MockResultRepository {
	m := &MockResultRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.ResultRepository = (*MockResultRepository)(nil)
