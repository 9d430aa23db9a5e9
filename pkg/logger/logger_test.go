package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		l, err := New(Config{})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("debug level console", func(t *testing.T) {
		l, err := New(Config{Level: "DEBUG", Encoding: "console"})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "verbose"})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	})
}

func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNewServiceFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := New(Config{OutputPath: path, Service: "skkn-server", Version: "1.2.0"})
	require.NoError(t, err)
	l.Named("Registry").Info("Session created")
	_ = l.Sync()

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "skkn-server", entries[0]["service"])
	assert.Equal(t, "1.2.0", entries[0]["version"])
	assert.Equal(t, "skkn-server.Registry", entries[0]["logger"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Contains(t, entries[0], "timestamp")
}

func TestNewSampling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := New(Config{OutputPath: path, SampleInitial: 2, SampleThereafter: 5})
	require.NoError(t, err)
	for range 12 {
		l.Info("chunk relayed")
	}
	l.Info("stage completed")
	_ = l.Sync()

	// 2 initial, then the 5th and 10th of the remaining 10
	entries := readEntries(t, path)
	assert.Len(t, entries, 5)
	assert.Equal(t, "stage completed", entries[len(entries)-1]["msg"])
}
