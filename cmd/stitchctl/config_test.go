package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchdesk/stitchdesk/internal/poller"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STITCHCTL_TOKEN", "")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultServer, cfg.Server)
	assert.Empty(t, cfg.Token)
	assert.Equal(t, poller.DefaultInterval, cfg.pollInterval)
}

func TestLoadConfigDefaultLocation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("STITCHCTL_TOKEN", "from-env")

	path := filepath.Join(dir, "stitchctl", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("server = \"https://stitch.example.com\"\npoll_interval = \"500ms\"\n"), 0o644))

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://stitch.example.com", cfg.Server)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.pollInterval)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("server = [\n"), 0o644))
	_, err = loadConfig(bad)
	require.Error(t, err)

	interval := filepath.Join(dir, "interval.toml")
	require.NoError(t, os.WriteFile(interval, []byte("poll_interval = \"soon\"\n"), 0o644))
	_, err = loadConfig(interval)
	assert.ErrorContains(t, err, "poll_interval")
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Format", "URL"}, [][]string{{"pes"}, {"dst", "x.dst"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "Format")
	assert.Contains(t, out, "x.dst")
	assert.Contains(t, out, "╭")
	assert.Empty(t, renderTable(nil, nil, nil))
}
