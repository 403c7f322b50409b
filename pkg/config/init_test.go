package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigToPathWritesLoadableFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "tcprosd configuration file")
	assert.Contains(t, string(content), "logging:")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestInitConfigToPathRefusesToOverwriteWithoutForce(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))
	err := InitConfigToPath(path, false)
	assert.ErrorContains(t, err, "already exists")
}

func TestInitConfigToPathForceOverwrites(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))
	require.NoError(t, InitConfigToPath(path, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestMustLoadErrorsWithoutConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	missing := filepath.Join(tmpDir, "missing.yaml")

	_, err := MustLoad(missing)
	assert.ErrorContains(t, err, "configuration file not found")
}

func TestMustLoadSucceedsAfterInit(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))
	cfg, err := MustLoad(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
