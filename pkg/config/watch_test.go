package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	require.NoError(t, err)
	defer w.Close()

	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.Logging.Level = "DEBUG"
	require.NoError(t, SaveConfig(cfg, path))

	select {
	case got := <-reloaded:
		assert.Equal(t, "DEBUG", got.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never observed the config file write")
	}
}

func TestWatchReportsLoadErrors(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	errs := make(chan error, 1)
	w, err := Watch(path, func(cfg *Config, err error) {
		if err != nil {
			errs <- err
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: NOT_A_LEVEL\n  format: text\n"), 0644))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the invalid config")
	}
}
