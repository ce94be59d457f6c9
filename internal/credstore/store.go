package credstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the requested token is not stored.
	ErrNotFound = errors.New("credential not found")

	// ErrReadOnly is returned by backends that cannot persist tokens.
	ErrReadOnly = errors.New("credential storage is read-only")
)

// Store reads and writes the session credential pair.
//
// Implementations must be safe for concurrent use. Each call is atomic on its own;
// callers do not get transactions across calls.
type Store interface {
	// AccessToken returns the stored access token or ErrNotFound.
	AccessToken(ctx context.Context) (string, error)

	// RefreshToken returns the stored refresh token or ErrNotFound.
	RefreshToken(ctx context.Context) (string, error)

	// SetAccessToken replaces the stored access token.
	SetAccessToken(ctx context.Context, token string) error

	// SetRefreshToken replaces the stored refresh token.
	SetRefreshToken(ctx context.Context, token string) error

	// Clear removes both tokens. Clearing empty storage is not an error.
	Clear(ctx context.Context) error
}

// SavePair stores both tokens of a freshly issued credential pair.
func SavePair(ctx context.Context, s Store, accessToken, refreshToken string) error {
	if err := s.SetAccessToken(ctx, accessToken); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}
	return s.SetRefreshToken(ctx, refreshToken)
}
