package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/mindline/internal/app"
)

func isolateConfigDir(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolateConfigDir(t)

	cfg, err := loadConfig("", nil, environ())
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, app.DefaultConfigAPIBaseURL, cfg.API.BaseURL)
	assert.Equal(t, app.CredentialStorageFile, cfg.Auth.Storage)
	assert.Equal(t, 4*time.Second, cfg.Chat.PollInterval)
}

func TestLoadConfig_Environment(t *testing.T) {
	isolateConfigDir(t)

	cfg, err := loadConfig("", nil, environ(
		"MINDLINE_LOG_LEVEL=debug",
		"MINDLINE_API__BASE_URL=https://api.example.com/v1",
		"MINDLINE_API__TIMEOUT=10s",
		"MINDLINE_AUTH__STORAGE=memory",
		"MINDLINE_CHAT__POLL_INTERVAL=1m",
		"MINDLINE_DEVSERVER__PORT=4100",
		"UNRELATED=1",
	))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "https://api.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, app.CredentialStorageMemory, cfg.Auth.Storage)
	assert.Equal(t, time.Minute, cfg.Chat.PollInterval)
	assert.Equal(t, uint16(4100), cfg.DevServer.Port)
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	isolateConfigDir(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_format = "json"

[api]
base_url = "https://file.example.com"
timeout = "5s"

[auth]
storage = "sqlite"
sqlite_path = "/tmp/mindline-test.db"
`), 0o600))

	cfg, err := loadConfig(path, nil, environ("MINDLINE_API__BASE_URL=https://env.example.com"))
	require.NoError(t, err)

	assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL, "environment overrides file")
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, app.CredentialStorageSQLite, cfg.Auth.Storage)
	assert.Equal(t, "/tmp/mindline-test.db", cfg.Auth.SQLitePath)
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	isolateConfigDir(t)

	var cfg *app.Config
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api--base-url", Value: app.DefaultConfigAPIBaseURL},
			&cli.StringFlag{Name: "auth--storage", Value: string(app.DefaultConfigAuthStorage)},
			&cli.StringFlag{Name: "email"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig("", cmd, environ(
				"MINDLINE_API__BASE_URL=https://env.example.com",
				"MINDLINE_AUTH__STORAGE=memory",
			))
			return err
		},
	}

	err := cmd.Run(context.Background(), []string{"test", "--api--base-url", "https://flag.example.com", "--email", "x@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example.com", cfg.API.BaseURL)
	assert.Equal(t, app.CredentialStorageMemory, cfg.Auth.Storage, "unset flag keeps environment value")
}

func TestLoadConfig_Invalid(t *testing.T) {
	isolateConfigDir(t)

	_, err := loadConfig("", nil, environ("MINDLINE_AUTH__STORAGE=cloud"))
	assert.ErrorContains(t, err, "invalid config")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil, environ())
	assert.ErrorContains(t, err, "loading config file")
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MINDLINE_DOTENV_TEST=from-file\n"), 0o600))
	t.Setenv("MINDLINE_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("MINDLINE_DOTENV_TEST"))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("MINDLINE_DOTENV_TEST"))
}
