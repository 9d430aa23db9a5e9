package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"skkn-server/internal/credential"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CredentialManager is the part of credential.Pool exposed over HTTP.
type CredentialManager interface {
	Add(ctx context.Context, key, name string) error
	Remove(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
	Rename(ctx context.Context, key, name string) error
	KeyAt(i int) (string, error)
	List() []credential.Info
	Stats() credential.Stats
	HasAvailable() bool
}

// ModelCatalog returns the model fallback chain in the order it is tried.
type ModelCatalog interface {
	Models(ctx context.Context) []string
}

// Preferences stores the user's choices.
type Preferences interface {
	SelectedModel(ctx context.Context) (string, error)
	SetSelectedModel(ctx context.Context, model string) error
	Unlocked(ctx context.Context) (bool, error)
	SetUnlocked(ctx context.Context, unlocked bool) error
}

type addCredentialRequest struct {
	Key  string `json:"key" binding:"required"`
	Name string `json:"name"`
}

type renameCredentialRequest struct {
	Name string `json:"name" binding:"required"`
}

type selectModelRequest struct {
	Model string `json:"model"`
}

type unlockRequest struct {
	Unlocked bool `json:"unlocked"`
}

type credentialsResponse struct {
	Credentials  []credential.Info `json:"credentials"`
	Stats        credential.Stats  `json:"stats"`
	HasAvailable bool              `json:"hasAvailable"`
}

type modelsResponse struct {
	Models   []string `json:"models"`
	Selected string   `json:"selected"`
}

// SettingsHandler manages API keys and model selection.
type SettingsHandler struct {
	credentials CredentialManager
	models      ModelCatalog
	prefs       Preferences
	logger      *zap.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(credentials CredentialManager, models ModelCatalog, prefs Preferences, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		credentials: credentials,
		models:      models,
		prefs:       prefs,
		logger:      logger.Named("SettingsHandler"),
	}
}

// RegisterRoutes registers the settings endpoints.
func (h *SettingsHandler) RegisterRoutes(router *gin.Engine) {
	creds := router.Group("/api/credentials")
	{
		creds.GET("", h.listCredentials)
		creds.POST("", h.addCredential)
		creds.DELETE("/:index", h.removeCredential)
		creds.POST("/:index/reset", h.resetCredential)
		creds.PUT("/:index/name", h.renameCredential)
	}

	settings := router.Group("/api/settings")
	{
		settings.GET("/models", h.listModels)
		settings.PUT("/models/selected", h.selectModel)
		settings.GET("/unlock", h.getUnlocked)
		settings.PUT("/unlock", h.setUnlocked)
	}
}

func (h *SettingsHandler) listCredentials(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}

func (h *SettingsHandler) addCredential(c *gin.Context) {
	var req addCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "key is required")
		return
	}
	if err := h.credentials.Add(c.Request.Context(), req.Key, req.Name); err != nil {
		h.logger.Warn("Failed to add credential", zap.String("key", credential.Mask(strings.TrimSpace(req.Key))), zap.Error(err))
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.snapshot())
}

func (h *SettingsHandler) removeCredential(c *gin.Context) {
	h.withKey(c, func(ctx context.Context, key string) error {
		return h.credentials.Remove(ctx, key)
	})
}

func (h *SettingsHandler) resetCredential(c *gin.Context) {
	h.withKey(c, func(ctx context.Context, key string) error {
		return h.credentials.Reset(ctx, key)
	})
}

func (h *SettingsHandler) renameCredential(c *gin.Context) {
	var req renameCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "name is required")
		return
	}
	h.withKey(c, func(ctx context.Context, key string) error {
		return h.credentials.Rename(ctx, key, req.Name)
	})
}

// withKey resolves the :index path parameter to a key, applies fn and
// responds with the updated list.
func (h *SettingsHandler) withKey(c *gin.Context, fn func(ctx context.Context, key string) error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortBadRequest(c, "invalid credential index")
		return
	}
	key, err := h.credentials.KeyAt(index)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if err := fn(c.Request.Context(), key); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.snapshot())
}

func (h *SettingsHandler) snapshot() credentialsResponse {
	return credentialsResponse{
		Credentials:  h.credentials.List(),
		Stats:        h.credentials.Stats(),
		HasAvailable: h.credentials.HasAvailable(),
	}
}

func (h *SettingsHandler) listModels(c *gin.Context) {
	ctx := c.Request.Context()
	selected, err := h.prefs.SelectedModel(ctx)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, modelsResponse{Models: h.models.Models(ctx), Selected: selected})
}

// selectModel stores the preferred model. An empty model restores the
// default order.
func (h *SettingsHandler) selectModel(c *gin.Context) {
	var req selectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "invalid model payload")
		return
	}
	ctx := c.Request.Context()
	model := strings.TrimSpace(req.Model)
	if err := h.prefs.SetSelectedModel(ctx, model); err != nil {
		handleServiceError(c, err)
		return
	}
	h.logger.Info("Model selected", zap.String("model", model))
	c.JSON(http.StatusOK, modelsResponse{Models: h.models.Models(ctx), Selected: model})
}

func (h *SettingsHandler) getUnlocked(c *gin.Context) {
	unlocked, err := h.prefs.Unlocked(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, unlockRequest{Unlocked: unlocked})
}

func (h *SettingsHandler) setUnlocked(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "invalid unlock payload")
		return
	}
	if err := h.prefs.SetUnlocked(c.Request.Context(), req.Unlocked); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
