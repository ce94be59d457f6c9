package credstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps the credential pair in a single-row SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check to ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and applies pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_busy_timeout=5000&_journal_mode=WAL&_loc=UTC"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// migrateUp applies embedded migrations. The migrate instance is not closed since
// that would close the shared *sql.DB.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, "access_token")
}

func (s *SQLiteStore) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, "refresh_token")
}

func (s *SQLiteStore) SetAccessToken(ctx context.Context, token string) error {
	return s.set(ctx, "access_token", token)
}

func (s *SQLiteStore) SetRefreshToken(ctx context.Context, token string) error {
	return s.set(ctx, "refresh_token", token)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = 1")
	return err
}

// column is always one of the two fixed names above, never user input.
func (s *SQLiteStore) get(ctx context.Context, column string) (string, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT "+column+" FROM credentials WHERE id = 1").Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !token.Valid || token.String == "" {
		return "", ErrNotFound
	}
	return token.String, nil
}

func (s *SQLiteStore) set(ctx context.Context, column, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, `+column+`, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET `+column+` = excluded.`+column+`, updated_at = excluded.updated_at
	`, token, time.Now().UTC())
	return err
}
