package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewRejectsBadEncoding(t *testing.T) {
	_, err := New(Config{Level: "info", Encoding: "xml"})
	assert.Error(t, err)
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connmgr.log")

	l, err := New(Config{Level: "debug", Encoding: "json", File: path})
	require.NoError(t, err)

	l.Info("pool initialized")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pool initialized")
}

func TestGetReturnsDefault(t *testing.T) {
	assert.NotNil(t, Get())
	require.NoError(t, Init(Config{Level: "warn", Encoding: "console", Development: true}))
	assert.False(t, Get().Core().Enabled(zapcore.DebugLevel))
}
