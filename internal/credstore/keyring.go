package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// Each token is a separate keyring entry under the same service.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

func (k *KeyringStore) AccessToken(ctx context.Context) (string, error) {
	return k.get(ctx, k.accessKey())
}

func (k *KeyringStore) RefreshToken(ctx context.Context) (string, error) {
	return k.get(ctx, k.refreshKey())
}

func (k *KeyringStore) SetAccessToken(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return keyring.Set(k.service, k.accessKey(), token)
}

func (k *KeyringStore) SetRefreshToken(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return keyring.Set(k.service, k.refreshKey(), token)
}

// Clear deletes both keyring entries. Missing entries are ignored.
func (k *KeyringStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	for _, key := range []string{k.accessKey(), k.refreshKey()} {
		if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (k *KeyringStore) get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}

func (k *KeyringStore) accessKey() string  { return k.user + ":access" }
func (k *KeyringStore) refreshKey() string { return k.user + ":refresh" }
