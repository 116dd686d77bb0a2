package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvBaseURL, EnvModel, EnvNotebook, EnvLogLevel} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: "http://${NB_TEST_HOST}/api/"
  timeout: 15s
agent:
  notebook_id: notebook:abc
  model_override: gpt-x
  record: false
log:
  level: DEBUG
  console: true
`), 0o644))
	t.Setenv("NB_TEST_HOST", "example.test:5055")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:5055/api", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
	assert.Equal(t, "notebook:abc", cfg.Agent.NotebookID)
	assert.Equal(t, "gpt-x", cfg.Agent.ModelOverride)
	assert.False(t, cfg.Agent.Record)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Console)

	t.Setenv(EnvBaseURL, "https://remote.test/api")
	t.Setenv(EnvModel, "")
	t.Setenv(EnvNotebook, "notebook:env")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://remote.test/api", cfg.API.BaseURL)
	assert.Empty(t, cfg.Agent.ModelOverride, "an empty model variable clears the override")
	assert.Equal(t, "notebook:env", cfg.Agent.NotebookID)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unterminated"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadBaseURL(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: unix:///tmp/nb.sock\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http://")
}

func TestValidateBaseURL(t *testing.T) {
	assert.NoError(t, ValidateBaseURL("http://localhost:5055/api"))
	assert.NoError(t, ValidateBaseURL("https://notebook.example.com"))
	assert.Error(t, ValidateBaseURL(""))
	assert.Error(t, ValidateBaseURL("localhost:5055"))
	assert.Error(t, ValidateBaseURL("http://"))
}

func TestEnsureConfigExists(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	created, err := EnsureConfigExists(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureConfigExists(path)
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadDotenvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("NB_DOTENV_A=from-file\nNB_DOTENV_B=from-file\n"), 0o644))
	t.Setenv("NB_DOTENV_A", "from-env")
	t.Setenv("NB_DOTENV_B", "")
	os.Unsetenv("NB_DOTENV_B")

	require.NoError(t, LoadDotenv(envFile, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("NB_DOTENV_A"))
	assert.Equal(t, "from-file", os.Getenv("NB_DOTENV_B"))
}

func TestConfigDirOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv(DirEnv, dir)

	file, err := GetConfigFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), file)

	logPath, err := GetLogPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "nbassist.log"), logPath)
	assert.DirExists(t, filepath.Join(dir, "logs"))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, Default()))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Client, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c Client) { changes <- c }, nil)
	}()

	next := Default()
	next.Agent.ModelOverride = "claude-y"
	require.Eventually(t, func() bool {
		if err := Save(path, next); err != nil {
			return false
		}
		select {
		case c := <-changes:
			return c.Agent.ModelOverride == "claude-y"
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
