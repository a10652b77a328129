package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesJSON(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	path := filepath.Join(t.TempDir(), "node.log")
	require.NoError(t, Init(path, "info"))

	Named("engine").Info("transition", zap.Uint32("round", 2))
	Named("engine").Debug("hidden")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"transition"`)
	require.Contains(t, string(data), `"logger":"engine"`)
	require.Contains(t, string(data), `"round":2`)
	require.NotContains(t, string(data), "hidden")
}

func TestInitRejectsLevel(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	require.Error(t, Init("", "loud"))
}
