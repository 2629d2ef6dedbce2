package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docqa/pkg/logger"
)

func TestNewWithConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.log")

	l, err := logger.NewWithConfig(logger.LoggerConfig{Level: "debug", FilePath: path})
	require.NoError(t, err)

	l.Named("test").Info("hello")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"logger":"test"`)
}

func TestNewWithConfigInvalidLevel(t *testing.T) {
	_, err := logger.NewWithConfig(logger.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, logger.OrNop(nil))
}
