package app_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/mindline/internal/app"
	"github.com/florianilch/mindline/internal/credstore"
	"github.com/florianilch/mindline/internal/observability"
)

func TestDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := app.Default()
	require.NoError(t, err)

	assert.Equal(t, app.LogFormatText, cfg.LogFormat)
	assert.Equal(t, observability.ExporterNone, cfg.LogExporter)
	assert.Equal(t, "http://127.0.0.1:4000", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 4*time.Second, cfg.Chat.PollInterval)
	assert.Equal(t, app.CredentialStorageFile, cfg.Auth.Storage)
	assert.Equal(t, "credentials.json", filepath.Base(cfg.Auth.File))
	assert.Equal(t, uint16(4000), cfg.DevServer.Port)
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_StorageSpecific(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg := &app.Config{Auth: app.AuthConfig{Storage: app.CredentialStorageSQLite}}
	require.NoError(t, cfg.ApplyDefaults())
	assert.Equal(t, "credentials.db", filepath.Base(cfg.Auth.SQLitePath))

	cfg = &app.Config{Auth: app.AuthConfig{Storage: app.CredentialStorageEnv}}
	require.NoError(t, cfg.ApplyDefaults())
	assert.Equal(t, app.DefaultConfigEnvAccessKey, cfg.Auth.EnvAccessKey)
	assert.Equal(t, app.DefaultConfigEnvRefreshKey, cfg.Auth.EnvRefreshKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*app.Config)
		wantErr string
	}{
		{name: "valid"},
		{
			name:    "bad base url",
			mutate:  func(c *app.Config) { c.API.BaseURL = "not a url" },
			wantErr: "BaseURL",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *app.Config) { c.Auth.Storage = "cloud" },
			wantErr: "Storage",
		},
		{
			name:    "unknown exporter",
			mutate:  func(c *app.Config) { c.LogExporter = "zipkin" },
			wantErr: "LogExporter",
		},
		{
			name: "env keys equal",
			mutate: func(c *app.Config) {
				c.Auth.Storage = app.CredentialStorageEnv
				c.Auth.EnvAccessKey = "TOKEN"
				c.Auth.EnvRefreshKey = "TOKEN"
			},
			wantErr: "must differ",
		},
		{
			name: "refresh ttl shorter than access ttl",
			mutate: func(c *app.Config) {
				c.DevServer.AccessTTL = time.Hour
				c.DevServer.RefreshTTL = time.Minute
			},
			wantErr: "refresh_ttl",
		},
		{
			name:    "bad devserver host",
			mutate:  func(c *app.Config) { c.DevServer.Host = "not a host!" },
			wantErr: "Host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &app.Config{Auth: app.AuthConfig{Storage: app.CredentialStorageMemory}}
			require.NoError(t, cfg.ApplyDefaults())
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAuthConfig_NewStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  app.AuthConfig
	}{
		{name: "memory", cfg: app.AuthConfig{Storage: app.CredentialStorageMemory}},
		{name: "file", cfg: app.AuthConfig{Storage: app.CredentialStorageFile, File: filepath.Join(dir, "creds.json")}},
		{name: "sqlite", cfg: app.AuthConfig{Storage: app.CredentialStorageSQLite, SQLitePath: filepath.Join(dir, "creds.db")}},
		{name: "env", cfg: app.AuthConfig{Storage: app.CredentialStorageEnv, EnvAccessKey: "A", EnvRefreshKey: "R"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := tt.cfg.NewStore()
			require.NoError(t, err)
			assert.Implements(t, (*credstore.Store)(nil), store)
			if closer, ok := store.(interface{ Close() error }); ok {
				require.NoError(t, closer.Close())
			}
		})
	}

	_, err := (&app.AuthConfig{Storage: "cloud"}).NewStore()
	assert.ErrorContains(t, err, "unsupported storage type")
}
