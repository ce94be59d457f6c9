package credstore

import (
	"context"
	"fmt"
	"os"
)

// EnvStore provides read-only access to tokens stored in environment variables.
// Suitable for a pre-issued access token; sessions cannot be renewed or cleared.
type EnvStore struct {
	accessKey  string
	refreshKey string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading the access token from accessKey and,
// if refreshKey is non-empty, the refresh token from refreshKey.
func NewEnvStore(accessKey, refreshKey string) (*EnvStore, error) {
	if accessKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvStore{
		accessKey:  accessKey,
		refreshKey: refreshKey,
	}, nil
}

func (e *EnvStore) AccessToken(ctx context.Context) (string, error) {
	return e.lookup(ctx, e.accessKey)
}

func (e *EnvStore) RefreshToken(ctx context.Context) (string, error) {
	return e.lookup(ctx, e.refreshKey)
}

// SetAccessToken is not supported for environment variables (they are read-only).
func (e *EnvStore) SetAccessToken(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrReadOnly
}

// SetRefreshToken is not supported for environment variables (they are read-only).
func (e *EnvStore) SetRefreshToken(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrReadOnly
}

// Clear is not supported for environment variables (they are read-only).
func (e *EnvStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrReadOnly
}

func (e *EnvStore) lookup(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrNotFound
	}

	token := os.Getenv(key)
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}
