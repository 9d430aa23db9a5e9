package config

import (
	"testing"
	"time"

	"skkn-server/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	utils.SecretsDir = t.TempDir()
	t.Chdir(t.TempDir())

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("SKKN_API_KEYS", "AIzaSyA-first-key, AIzaSyB-second-key")
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, ProviderGemini, cfg.AIProvider)
		assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash"}, cfg.AIModels)
		assert.InDelta(t, 0.7, cfg.AITemperature, 0.0001)
		assert.InDelta(t, 64, cfg.AITopK, 0.0001)
		assert.InDelta(t, 0.95, cfg.AITopP, 0.0001)
		assert.Equal(t, int32(65536), cfg.AIMaxOutput)
		assert.Equal(t, int32(2048), cfg.AIThinkingBudget)
		assert.Equal(t, 10, cfg.PoolMaxKeys)
		assert.Equal(t, 3, cfg.PoolMaxErrors)
		assert.Equal(t, 60*time.Second, cfg.PoolCooldown)
		assert.Equal(t, []string{"AIzaSyA-first-key", "AIzaSyB-second-key"}, cfg.APIKeys)
		assert.False(t, cfg.DatabaseEnabled())
		assert.Equal(t, 5*time.Minute, cfg.DBIdleTimeout)
	})

	t.Run("idle time as duration", func(t *testing.T) {
		t.Setenv("DB_MAX_IDLE_TIME", "90s")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.DBIdleTimeout)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		t.Setenv("AI_PROVIDER", "bard")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestMaskedDSN(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p4ss", DBHost: "db", DBPort: "5432", DBName: "skkn", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://u:********@db:5432/skkn?sslmode=disable", cfg.MaskedDSN())
	assert.NotContains(t, cfg.MaskedDSN(), "p4ss")
}
