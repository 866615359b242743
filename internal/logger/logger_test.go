// SPDX-License-Identifier: EPL-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleScoping(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := NewSlogLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	root.Module("library").Module("zip").With(String("sample", "abc")).Info("exported",
		Int("count", 3), Duration("took", time.Second), Error(errors.New("boom")), Strings("ids", []string{"a", "b"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "exported", entry["msg"])
	assert.Equal(t, "library.zip", entry["module"])
	assert.Equal(t, "abc", entry["sample"])
	assert.InDelta(t, 3, entry["count"], 0)
	assert.Equal(t, "1s", entry["took"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "a,b", entry["ids"])
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewTextLogger(&buf, slog.LevelWarn)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := NewTextLogger(&buf, slog.LevelInfo)
	_ = root.With(String("child", "yes"))

	root.Info("parent")
	assert.NotContains(t, buf.String(), "child=yes")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNew_FileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "sampleprep.log")
	log, closer, err := New(Config{Level: "error", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	log.Module("test").Debug("to file only", Bool("ok", true))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file only"`)
	assert.Contains(t, string(data), `"module":"test"`)
}
