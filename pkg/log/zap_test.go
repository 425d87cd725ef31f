package log

import (
	"os"
	"path/filepath"
	"testing"

	"RouteGuard/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewZapLogger_NilConfig(t *testing.T) {
	_, err := NewZapLogger(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "log config is nil")
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	cfg := &conf.Log{
		Level:  "invalid_level",
		Format: "json",
	}

	_, err := NewZapLogger(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewZapLogger_ProductionMode(t *testing.T) {
	cfg := &conf.Log{
		Level:  "info",
		Format: "json",
		Env:    "production",
	}

	logger, err := NewZapLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	// Test that logger has service field
	logger.Info("test message", zap.String("key", "value"))
}

func TestNewZapLogger_DevelopmentMode(t *testing.T) {
	cfg := &conf.Log{
		Level:  "debug",
		Format: "console",
		Env:    "development",
	}

	logger, err := NewZapLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	// Test debug level is enabled in development
	logger.Debug("debug message", zap.String("key", "value"))
	logger.Info("info message", zap.String("key", "value"))
}

func TestNewZapLogger_EnvironmentVariable(t *testing.T) {
	// Test ROUTEGUARD_ENV environment variable
	t.Setenv("ROUTEGUARD_ENV", "development")

	cfg := &conf.Log{
		Level:  "info",
		Format: "json",
		Env:    "", // Empty, should use env var
	}

	logger, err := NewZapLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewZapLogger_LogLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"debug level", "debug"},
		{"info level", "info"},
		{"warn level", "warn"},
		{"error level", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &conf.Log{
				Level:  tt.level,
				Format: "json",
				Env:    "production",
			}

			logger, err := NewZapLogger(cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Info("test message", zap.String("level", tt.level))
		})
	}
}

func TestNewZapLogger_FileOutput(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "test.log")

	cfg := &conf.Log{
		Level:      "info",
		Format:     "json",
		OutputFile: logFile,
		Env:        "production",
	}

	logger, err := NewZapLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("file output test", zap.String("target", "file"))
	require.NoError(t, logger.Sync())

	// Verify the log file was created and contains the message
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file output test")
	assert.Contains(t, string(data), `"service":"RouteGuard"`)
}
