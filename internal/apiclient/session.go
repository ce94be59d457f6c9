package apiclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/florianilch/mindline/internal/credstore"
	"github.com/florianilch/mindline/internal/tokensource"
)

// renew recovers from a 401 received with usedToken. On success the store holds a
// fresh pair and the caller replays its request once.
//
// Requests rejected with the same access token share one renewal. A request that
// arrives after that renewal finished finds the rotated token and skips redemption.
func (c *Client) renew(ctx context.Context, usedToken string) error {
	// The shared call must not be cut short by whichever waiter happened to start it.
	_, err, shared := c.renewals.Do(usedToken, func() (any, error) {
		return nil, c.renewSession(context.WithoutCancel(ctx), usedToken)
	})
	if shared {
		c.logger.DebugContext(ctx, "joined in-flight session renewal")
	}
	return err
}

func (c *Client) renewSession(ctx context.Context, usedToken string) error {
	current, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	if current != "" && current != usedToken {
		c.logger.DebugContext(ctx, "session already renewed, replaying request")
		return nil
	}

	refreshToken, err := c.store.RefreshToken(ctx)
	if errors.Is(err, credstore.ErrNotFound) {
		c.metrics.observeRenewal("no_refresh_token")
		c.logger.WarnContext(ctx, "session expired without refresh token, clearing credentials")
		c.clear(ctx)
		return ErrUnauthenticated
	}
	if err != nil {
		return fmt.Errorf("reading refresh token: %w", err)
	}

	return c.redeem(ctx, refreshToken)
}

// redeem exchanges refreshToken and persists the result. Any refresh failure clears
// the stored credentials.
func (c *Client) redeem(ctx context.Context, refreshToken string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		c.metrics.observeRenewal("rejected")
		c.logger.WarnContext(ctx, "session renewal failed, clearing credentials", "error", err)
		c.clear(ctx)
		return fmt.Errorf("%w: %w", ErrUnauthenticated, asStatusError(err))
	}

	if err := credstore.SavePair(ctx, c.store, tok.AccessToken, tok.RefreshToken); err != nil {
		c.metrics.observeRenewal("persist_failed")
		return fmt.Errorf("persisting renewed credentials: %w", err)
	}

	c.metrics.observeRenewal("renewed")
	c.logger.InfoContext(ctx, "session renewed")
	return nil
}

// clear drops stored credentials. Failures are logged; the caller is already failing.
func (c *Client) clear(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear credentials", "error", err)
	}
}

// asStatusError exposes backend refresh rejections with the same type as any other
// non-2xx response.
func asStatusError(err error) error {
	var refreshErr *tokensource.RefreshError
	if errors.As(err, &refreshErr) {
		return &StatusError{Code: refreshErr.Code, Body: refreshErr.Body}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return err
	}
	return &NetworkError{Method: "POST", Path: tokensource.RefreshPath, Err: err}
}
