package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartoza/renewal-predictor/internal/config"
)

func writeRunConfig(t *testing.T, modelPath string, port int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "predictor.log")
	cfg := fmt.Sprintf(`
model:
  path: %q
server:
  port: %d
  route: /predict
log:
  file: %q
`, modelPath, port, logPath)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, logPath
}

func TestRunMissingConfig(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "absent.yaml"), make(chan os.Signal))
	assert.Error(t, err)
}

func TestRunInvalidConfig(t *testing.T) {
	path, _ := writeRunConfig(t, "", 5000)
	err := run(path, make(chan os.Signal))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunMissingModelLogsAndReturns(t *testing.T) {
	path, logPath := writeRunConfig(t, filepath.Join(t.TempDir(), "absent.json"), 5000)

	err := run(path, make(chan os.Signal))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load model artifact")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"failed to load model artifact"`)
}

func TestRunStopsOnSignal(t *testing.T) {
	modelPath, err := filepath.Abs(filepath.Join("testdata", "model.json"))
	require.NoError(t, err)
	path, logPath := writeRunConfig(t, modelPath, 18473)

	stop := make(chan os.Signal, 1)
	stop <- syscall.SIGTERM
	require.NoError(t, run(path, stop))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"model loaded"`)
	assert.Contains(t, string(data), `"signal":"terminated"`)
}
