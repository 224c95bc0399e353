package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_JSONShape(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Service: "loyalty-ledger", Env: "test", Level: "debug"})

	logger.Debug("sale recorded", "customer", "Ana", "bot_token", "abc123")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "sale recorded", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "loyalty-ledger", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "Ana", line["customer"])
	require.Equal(t, RedactedValue, line["bot_token"])
	require.Contains(t, line, "timestamp")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: "warn"})

	logger.Info("hidden")
	require.Zero(t, buf.Len())

	logger.Warn("shown")
	require.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestSetup_WritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "ledger.log")
	logger, closer := Setup(Config{Service: "loyalty-ledger", File: path, MaxSizeMB: 1})
	logger.Info("started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"started"`)
}
