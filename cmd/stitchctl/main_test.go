package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchdesk/stitchdesk/internal/app"
	"github.com/stitchdesk/stitchdesk/internal/config"
	"github.com/stitchdesk/stitchdesk/internal/converter"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/routes"
	"github.com/stitchdesk/stitchdesk/internal/service"
	"github.com/stitchdesk/stitchdesk/internal/testsupport"
)

const testSecret = "cli-secret"

type fakeConverter struct{}

func (fakeConverter) Convert(context.Context, string) (converter.Result, error) {
	return converter.Result{PES: "23504553", DST: "4c413a"}, nil
}

type cliTestEnv struct {
	server     *httptest.Server
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "xdg"))
	t.Setenv("HOME", base)
	t.Setenv("STITCHCTL_TOKEN", "")

	cfg := &config.Config{
		AppName:           "Stitchdesk",
		AppEnv:            "development",
		JWTSecret:         testSecret,
		JWTExpiry:         time.Hour,
		ConvertTimeout:    5 * time.Second,
		UploadMaxBytes:    1 << 20,
		UploadConcurrency: 2,
		UploadChunkSize:   16,
		BlobRetention:     24 * time.Hour,
		AccessCacheSize:   16,
		AccessCacheTTL:    time.Minute,
	}
	a := app.Wire(cfg, testsupport.NewSQLiteKV(t), testsupport.NewFSStorage(t), fakeConverter{})
	srv := httptest.NewServer(routes.SetupRoutes(a))
	t.Cleanup(srv.Close)

	token, err := a.SessionService.IssueToken(model.Caller{Username: "alice", Role: model.RoleUser})
	require.NoError(t, err)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, srv.URL, token)

	return &cliTestEnv{server: srv, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path, server, token string) {
	t.Helper()
	content := fmt.Sprintf("server = %q\ntoken = %q\npoll_interval = \"10ms\"\n", server, token)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliTestEnv) writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(env.baseDir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func (env *cliTestEnv) upload(t *testing.T) string {
	t.Helper()
	path := env.writeFile(t, "art.png", testsupport.PNG)
	out, _, err := runCLI(t, []string{"upload", path}, env.configPath)
	require.NoError(t, err)
	for _, field := range strings.Fields(out) {
		if strings.HasPrefix(field, "http://") {
			return field
		}
	}
	t.Fatalf("no URL in upload output:\n%s", out)
	return ""
}

func TestCLIUploadConvertAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	fileURL := env.upload(t)
	assert.Contains(t, fileURL, "/alice/images/")

	out, _, err := runCLI(t, []string{"status", fileURL}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploading completed")
	assert.Contains(t, out, "Stage")

	out, _, err = runCLI(t, []string{"convert", "--follow", fileURL}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Conversion complete")
	assert.Contains(t, out, ".pes")
	assert.Contains(t, out, ".dst")

	out, _, err = runCLI(t, []string{"watch", fileURL}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Converted")

	out, _, err = runCLI(t, []string{"versions", fileURL}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Version")
	assert.Contains(t, out, ".pes")
}

func TestCLIUploadRejectedFile(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeFile(t, "anim.gif", []byte("GIF89a"))

	_, _, err := runCLI(t, []string{"upload", path}, env.configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestCLIFilesCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	fileURL := env.upload(t)

	out, _, err := runCLI(t, []string{"files", "visibility", fileURL, "public"}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Visibility set to public")

	out, _, err = runCLI(t, []string{"files", "info", fileURL}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "public")

	_, _, err = runCLI(t, []string{"files", "list"}, env.configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, _, err = runCLI(t, []string{"files", "visibility", fileURL, "secret"}, env.configPath)
	require.Error(t, err)

	out, _, err = runCLI(t, []string{"files", "delete", fileURL}, env.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "File deleted")
}

func TestCLIServerFlagOverridesConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	writeTestConfig(t, env.configPath, "http://127.0.0.1:1", "")

	_, _, err := runCLI(t, []string{"--server", env.server.URL, "status", "http://localhost:8090/blobs/x.png"}, env.configPath)
	require.NoError(t, err)
}

func TestCLITokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	out, _, err := runCLI(t, []string{"token", "--admin", "--email", "root@example.com", "root"}, "/does/not/exist.toml")
	require.NoError(t, err)

	caller, err := service.NewSessionService(testSecret, time.Hour, false).VerifyToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "root", caller.Username)
	assert.Equal(t, "root@example.com", caller.Email)
	assert.True(t, caller.IsAdmin())
}

func TestCLITokenRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, _, err := runCLI(t, []string{"token", "alice"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}
