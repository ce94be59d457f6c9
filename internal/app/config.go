package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/mindline/internal/credstore"
	"github.com/florianilch/mindline/internal/observability"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// CredentialStorageType represents the different storage types supported for the
// session's credential pair.
type CredentialStorageType string

const (
	CredentialStorageFile    CredentialStorageType = "file"
	CredentialStorageKeyring CredentialStorageType = "keyring"
	CredentialStorageEnv     CredentialStorageType = "env"
	CredentialStorageSQLite  CredentialStorageType = "sqlite"
	CredentialStorageMemory  CredentialStorageType = "memory"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigLogExporter     = observability.ExporterNone
	DefaultConfigAPIBaseURL      = "http://127.0.0.1:4000"
	DefaultConfigAPITimeout      = 30 * time.Second
	DefaultConfigAuthStorage     = CredentialStorageFile
	DefaultConfigEnvAccessKey    = "MINDLINE_ACCESS_TOKEN"
	DefaultConfigEnvRefreshKey   = "MINDLINE_REFRESH_TOKEN"
	DefaultConfigChatPoll        = 4 * time.Second
	DefaultConfigDevServerHost   = "127.0.0.1"
	DefaultConfigDevServerPort   = 4000
	DefaultConfigShutdownTimeout = 5 * time.Second

	keyringService = "mindline"
	configDirName  = "mindline"
)

// APIConfig holds backend connection settings.
type APIConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// Timeout bounds each request attempt, including a session renewal.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
	// MetricsFile, when set, receives the client's Prometheus metrics in text format
	// on Close, for the node_exporter textfile collector.
	MetricsFile string `json:"metrics_file"`
}

// AuthConfig describes where the session's credential pair is kept.
type AuthConfig struct {
	Storage CredentialStorageType `json:"storage" validate:"required,oneof=file keyring env sqlite memory"`

	// Storage-specific settings (only the one matching Storage is used)
	File          string `json:"file,omitempty"`
	KeyringUser   string `json:"keyring_user,omitempty"`
	EnvAccessKey  string `json:"env_access_key,omitempty"`
	EnvRefreshKey string `json:"env_refresh_key,omitempty"`
	SQLitePath    string `json:"sqlite_path,omitempty"`
}

// NewStore creates the credential store described by the configuration. Stores that
// hold resources implement io.Closer.
func (a *AuthConfig) NewStore() (credstore.Store, error) {
	switch a.Storage {
	case CredentialStorageFile:
		return credstore.NewFileStore(a.File)
	case CredentialStorageKeyring:
		return credstore.NewKeyringStore(keyringService, a.KeyringUser)
	case CredentialStorageEnv:
		return credstore.NewEnvStore(a.EnvAccessKey, a.EnvRefreshKey)
	case CredentialStorageSQLite:
		return credstore.NewSQLiteStore(a.SQLitePath)
	case CredentialStorageMemory:
		return credstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// ChatConfig holds chat behavior.
type ChatConfig struct {
	PollInterval time.Duration `json:"poll_interval" validate:"gte=0"`
}

// DevServerConfig holds settings of the local development backend.
type DevServerConfig struct {
	Host       string        `json:"host" validate:"hostname_rfc1123|ip"`
	Port       uint16        `json:"port"` // Port range 0-65535 handled by uint16 type
	AccessTTL  time.Duration `json:"access_ttl" validate:"gte=0"`
	RefreshTTL time.Duration `json:"refresh_ttl" validate:"gte=0"`
	// SigningKey for access tokens. Empty generates a random key per run.
	SigningKey string `json:"signing_key,omitempty"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level             `json:"log_level"`
	LogFormat   LogFormat              `json:"log_format" validate:"oneof=text json"`
	LogExporter observability.Exporter `json:"log_exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	API         APIConfig              `json:"api"`
	Auth        AuthConfig             `json:"auth"`
	Chat        ChatConfig             `json:"chat"`
	DevServer   DevServerConfig        `json:"devserver"`
	Shutdown    ShutdownConfig         `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultConfigAPIBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultConfigAPITimeout
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Chat.PollInterval == 0 {
		c.Chat.PollInterval = DefaultConfigChatPoll
	}
	if c.DevServer.Host == "" {
		c.DevServer.Host = DefaultConfigDevServerHost
	}
	if c.DevServer.Port == 0 {
		c.DevServer.Port = DefaultConfigDevServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case CredentialStorageFile:
		if c.Auth.File == "" {
			dir, err := configDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(dir, "credentials.json")
		}
	case CredentialStorageSQLite:
		if c.Auth.SQLitePath == "" {
			dir, err := configDir()
			if err != nil {
				return fmt.Errorf("auth.sqlite_path required (auto-detect failed: %w)", err)
			}
			c.Auth.SQLitePath = filepath.Join(dir, "credentials.db")
		}
	case CredentialStorageKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case CredentialStorageEnv:
		if c.Auth.EnvAccessKey == "" {
			c.Auth.EnvAccessKey = DefaultConfigEnvAccessKey
		}
		if c.Auth.EnvRefreshKey == "" {
			c.Auth.EnvRefreshKey = DefaultConfigEnvRefreshKey
		}
	}

	return nil
}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configDirName), nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case CredentialStorageFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case CredentialStorageSQLite:
		if c.Auth.SQLitePath == "" {
			return errors.New("sqlite_path required for sqlite storage")
		}
	case CredentialStorageKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case CredentialStorageEnv:
		if c.Auth.EnvAccessKey == "" {
			return errors.New("env_access_key required for env storage")
		}
		if c.Auth.EnvAccessKey == c.Auth.EnvRefreshKey {
			return errors.New("env_access_key and env_refresh_key must differ")
		}
	}

	if c.DevServer.AccessTTL > 0 && c.DevServer.RefreshTTL > 0 && c.DevServer.RefreshTTL <= c.DevServer.AccessTTL {
		return errors.New("devserver.refresh_ttl must exceed devserver.access_ttl")
	}

	return nil
}
