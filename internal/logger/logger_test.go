package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"ipguard/internal/models"
	"ipguard/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVersion() version.Info {
	return version.Info{Version: "test", GitCommit: "abc123"}
}

func TestSetup_JSONToStdout(t *testing.T) {
	cfg := models.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}

	log, closer, err := Setup(cfg, testVersion())
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Nil(t, closer)
}

func TestSetup_TextToStderr(t *testing.T) {
	cfg := models.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}

	log, closer, err := Setup(cfg, testVersion())
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Nil(t, closer)
}

func TestSetup_InvalidLevel(t *testing.T) {
	cfg := models.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"}

	_, _, err := Setup(cfg, testVersion())
	assert.Error(t, err)
}

func TestSetup_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipguard.log")
	cfg := models.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: path,
		MaxSize:  1,
	}

	log, closer, err := Setup(cfg, testVersion())
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer.Close()

	log.Info("hello")
	_, err = os.Stat(path)
	assert.NoError(t, err, "log file should be created on first write")
}

func TestSetup_FileOutputRequiresPath(t *testing.T) {
	cfg := models.LoggingConfig{Level: "info", Format: "json", Output: "file"}

	_, _, err := Setup(cfg, testVersion())
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseLevel("trace")
	assert.Error(t, err)
}
