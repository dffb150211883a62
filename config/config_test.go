package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PORT", "")
	t.Setenv("TESTINGDRIVER_REMOTE_HOST", "")

	path := filepath.Join(dir, "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "chrome", cfg.Driver.Browser)
	assert.Equal(t, 5, cfg.Driver.TimeoutSeconds)
	assert.Equal(t, 60, cfg.Driver.PageLoadTimeoutMinutes)
	assert.Equal(t, "./", cfg.Driver.ScreenshotDir)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config should be written back")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Driver.Browser, again.Driver.Browser)
	assert.Equal(t, cfg.Database.Path, again.Database.Path)
}

func TestLoadFillsDriverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
port = "9000"
host = "127.0.0.1"

[driver]
browser = "remotechrome"
remote_host = "http://grid:9222"
loading_spinner = "//div[@class='spinner']"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("PORT", "")
	t.Setenv("TESTINGDRIVER_REMOTE_HOST", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "remotechrome", cfg.Driver.Browser)
	assert.Equal(t, "http://grid:9222", cfg.Driver.RemoteHost)
	assert.Equal(t, "//div[@class='spinner']", cfg.Driver.LoadingSpinner)
	assert.Equal(t, 5, cfg.Driver.TimeoutSeconds)
	assert.Equal(t, 100, cfg.Driver.PollIntervalMS)
	assert.NotNil(t, cfg.Database)
	assert.NotNil(t, cfg.Log)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[driver]\nbrowser = \"chrome\"\n"), 0o644))
	t.Setenv("PORT", "7777")
	t.Setenv("TESTINGDRIVER_REMOTE_HOST", "http://remote:4444")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "http://remote:4444", cfg.Driver.RemoteHost)
}

func TestEdgeDoesNotInheritChromeBinPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[driver]\nbrowser = \"edge\"\n"), 0o644))
	t.Setenv("CHROME_BIN_PATH", "/usr/bin/google-chrome")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "edge", cfg.Driver.Browser)
	assert.Empty(t, cfg.Driver.BinPath)
}

func TestLoadInvalidToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[driver\nbrowser="), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
