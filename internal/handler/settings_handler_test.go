package handler

import (
	"context"
	"net/http"
	"testing"

	"skkn-server/internal/credential"
	"skkn-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticModels struct {
	prefs *store.Settings
}

func (m staticModels) Models(ctx context.Context) []string {
	selected, _ := m.prefs.SelectedModel(ctx)
	if selected == "gemini-2.5-pro" {
		return []string{"gemini-2.5-pro", "gemini-2.5-flash"}
	}
	return []string{"gemini-2.5-flash", "gemini-2.5-pro"}
}

func newSettingsServer(t *testing.T) (*testServer, *credential.Pool) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	kv := store.NewMemoryStore()
	pool := credential.NewPool(credential.DefaultConfig(), kv, zap.NewNop())
	prefs := store.NewSettings(kv)

	router := gin.New()
	NewSettingsHandler(pool, staticModels{prefs: prefs}, prefs, zap.NewNop()).RegisterRoutes(router)
	return &testServer{router: router}, pool
}

func TestCredentialEndpoints(t *testing.T) {
	ts, pool := newSettingsServer(t)

	w := ts.do(t, http.MethodPost, "/api/credentials", addCredentialRequest{Key: "  AIzaSyA-first-key-0001  "})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[credentialsResponse](t, w)
	require.Len(t, resp.Credentials, 1)
	assert.Equal(t, "AIza...0001", resp.Credentials[0].Key)
	assert.Equal(t, "Key 1", resp.Credentials[0].Name)
	assert.True(t, resp.HasAvailable)
	assert.Equal(t, 1, resp.Stats.Active)

	w = ts.do(t, http.MethodPost, "/api/credentials", addCredentialRequest{Key: "AIzaSyB-second-key-02", Name: "Dự phòng"})
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"duplicate", addCredentialRequest{Key: "AIzaSyA-first-key-0001"}, http.StatusConflict},
		{"too short", addCredentialRequest{Key: "short"}, http.StatusBadRequest},
		{"missing key", map[string]string{"name": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/credentials", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w = ts.do(t, http.MethodPut, "/api/credentials/1/name", renameCredentialRequest{Name: "Chính"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Chính", decode[credentialsResponse](t, w).Credentials[1].Name)

	w = ts.do(t, http.MethodPost, "/api/credentials/0/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/credentials/0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[credentialsResponse](t, w)
	require.Len(t, resp.Credentials, 1)
	assert.Equal(t, "Chính", resp.Credentials[0].Name)
	assert.Equal(t, 1, pool.Len())

	w = ts.do(t, http.MethodDelete, "/api/credentials/5", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/credentials/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/credentials", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[credentialsResponse](t, w).Stats.Total)
}

func TestModelSelection(t *testing.T) {
	ts, _ := newSettingsServer(t)

	w := ts.do(t, http.MethodGet, "/api/settings/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[modelsResponse](t, w)
	assert.Empty(t, resp.Selected)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-pro"}, resp.Models)

	w = ts.do(t, http.MethodPut, "/api/settings/models/selected", selectModelRequest{Model: " gemini-2.5-pro "})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[modelsResponse](t, w)
	assert.Equal(t, "gemini-2.5-pro", resp.Selected)
	assert.Equal(t, "gemini-2.5-pro", resp.Models[0])

	w = ts.do(t, http.MethodGet, "/api/settings/models", nil)
	assert.Equal(t, "gemini-2.5-pro", decode[modelsResponse](t, w).Selected)
}

func TestUnlockFlag(t *testing.T) {
	ts, _ := newSettingsServer(t)

	w := ts.do(t, http.MethodGet, "/api/settings/unlock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[unlockRequest](t, w).Unlocked)

	w = ts.do(t, http.MethodPut, "/api/settings/unlock", unlockRequest{Unlocked: true})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/settings/unlock", nil)
	assert.True(t, decode[unlockRequest](t, w).Unlocked)
}
