package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore provides atomic file-based credential storage with secure permissions.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	filePath string

	// Serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// fileCredentials is the on-disk JSON layout.
type fileCredentials struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

func (f *FileStore) AccessToken(ctx context.Context) (string, error) {
	creds, err := f.readLocked(ctx)
	if err != nil {
		return "", err
	}
	if creds.AccessToken == "" {
		return "", ErrNotFound
	}
	return creds.AccessToken, nil
}

func (f *FileStore) RefreshToken(ctx context.Context) (string, error) {
	creds, err := f.readLocked(ctx)
	if err != nil {
		return "", err
	}
	if creds.RefreshToken == "" {
		return "", ErrNotFound
	}
	return creds.RefreshToken, nil
}

func (f *FileStore) SetAccessToken(ctx context.Context, token string) error {
	return f.update(ctx, func(c *fileCredentials) { c.AccessToken = token })
}

func (f *FileStore) SetRefreshToken(ctx context.Context, token string) error {
	return f.update(ctx, func(c *fileCredentials) { c.RefreshToken = token })
}

// Clear removes the credentials file.
func (f *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileStore) readLocked(ctx context.Context) (fileCredentials, error) {
	if err := ctx.Err(); err != nil {
		return fileCredentials{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// read returns the stored credentials. A missing file yields ErrNotFound; a file
// with insecure permissions is rejected.
func (f *FileStore) read() (fileCredentials, error) {
	var creds fileCredentials

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return creds, ErrNotFound
	}
	if err != nil {
		return creds, err
	}
	if info.Mode().Perm() != 0600 {
		return creds, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return creds, err
	}
	if len(data) == 0 {
		return creds, ErrNotFound
	}

	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("decoding %s: %w", f.filePath, err)
	}
	return creds, nil
}

func (f *FileStore) update(ctx context.Context, mutate func(*fileCredentials)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	creds, err := f.read()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	mutate(&creds)

	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return f.write(ctx, data)
}

// write atomically saves data using temp file + rename for crash safety.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) write(ctx context.Context, data []byte) error {
	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	return os.Chmod(f.filePath, 0600)
}
