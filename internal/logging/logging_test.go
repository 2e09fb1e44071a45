// internal/logging/logging_test.go
package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, level, closer := New(Options{Level: "warn", Format: "json"}, &buf)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "source", "golang/go")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "golang/go", entry["source"])

	level.Set(slog.LevelDebug)
	buf.Reset()
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, _, _ := New(Options{Format: "text"}, &buf)

	logger.Info("hello", "component", "syncer")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "component=syncer")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	var buf bytes.Buffer
	logger, _, closer := New(Options{Level: "info", File: path}, &buf)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Empty(t, buf.String())
}

func TestSetLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for name, want := range tests {
		v := new(slog.LevelVar)
		SetLevel(name, v)
		assert.Equal(t, want, v.Level(), name)
	}
}
