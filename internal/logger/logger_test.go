package logger

import (
	"bb-rsi-backtest-go/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backtest.log")
	InitLogger(models.LogConfig{Level: "debug", Output: "file", File: path})

	S().Debugw("调试信息", "instrument", "BTCUSDT")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "调试信息")
	assert.Contains(t, string(data), "BTCUSDT")
}

func TestInitLogger_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backtest.log")
	InitLogger(models.LogConfig{Level: "warn", Output: "file", File: path})

	S().Info("不应出现")
	S().Warn("应当出现")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "不应出现")
	assert.Contains(t, string(data), "应当出现")
}

func TestL_NeverNil(t *testing.T) {
	assert.NotNil(t, L())
	assert.NotNil(t, S())
}
