package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_InvalidLevel(t *testing.T) {
	err := Init(&config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestInit_FileSink(t *testing.T) {
	defer Set(zap.NewNop())

	file := filepath.Join(t.TempDir(), "buddy.log")
	require.NoError(t, Init(&config.LogConfig{Level: "info", File: file, MaxSize: 1}))

	Named("test").Infow("tare done", "offset", 1234)
	Named("test").Debug("hidden")
	Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tare done")
	assert.Contains(t, string(data), "test")
	assert.NotContains(t, string(data), "hidden")
}

func TestNamed_UsesGlobal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	Set(zap.New(core))
	defer Set(zap.NewNop())

	Named("loadcell").Warnw("sensor fault", "count", 4)
	Named("loadcell").Info("ignored")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "loadcell", entry.LoggerName)
	assert.Equal(t, "sensor fault", entry.Message)
}
