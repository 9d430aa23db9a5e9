package store_test

import (
	"context"
	"errors"
	"testing"

	"skkn-server/internal/mocks"
	"skkn-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestSettingsBackendErrors(t *testing.T) {
	ctx := context.Background()
	backendErr := errors.New("connection refused")

	t.Run("missing key is not an error", func(t *testing.T) {
		kv := mocks.NewMockKV(t)
		kv.On("Get", mock.Anything, store.KeySelectedModel).Return(nil, store.ErrNotFound).Once()

		model, err := store.NewSettings(kv).SelectedModel(ctx)
		assert.NoError(t, err)
		assert.Empty(t, model)
		kv.AssertExpectations(t)
	})

	t.Run("read failure is returned", func(t *testing.T) {
		kv := mocks.NewMockKV(t)
		kv.On("Get", mock.Anything, store.KeyUnlocked).Return(nil, backendErr).Once()

		_, err := store.NewSettings(kv).Unlocked(ctx)
		assert.ErrorIs(t, err, backendErr)
		kv.AssertExpectations(t)
	})

	t.Run("corrupt value is reported", func(t *testing.T) {
		kv := mocks.NewMockKV(t)
		kv.On("Get", mock.Anything, store.KeySelectedModel).Return([]byte("{not json"), nil).Once()

		_, err := store.NewSettings(kv).SelectedModel(ctx)
		assert.ErrorContains(t, err, store.KeySelectedModel)
	})

	t.Run("write encodes JSON", func(t *testing.T) {
		kv := mocks.NewMockKV(t)
		kv.On("Set", mock.Anything, store.KeySelectedModel, []byte(`"gemini-2.5-flash"`)).Return(nil).Once()

		assert.NoError(t, store.NewSettings(kv).SetSelectedModel(ctx, "gemini-2.5-flash"))
		kv.AssertExpectations(t)
	})
}
