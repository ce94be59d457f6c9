package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/mindline/internal/app"
	"github.com/florianilch/mindline/internal/credstore"
	"github.com/florianilch/mindline/internal/redact"
	"github.com/florianilch/mindline/internal/resources"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in and store the session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
			&cli.StringFlag{Name: "password", Usage: "account password (prompted when omitted)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
				password, err := passwordFrom(cmd)
				if err != nil {
					return err
				}

				session, err := client.Resources.Login(ctx, cmd.String("email"), password)
				if err != nil {
					return err
				}
				return printJSON(cmd, session.User)
			})
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create an account and store the session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
			&cli.StringFlag{Name: "name", Usage: "display name", Required: true},
			&cli.StringFlag{Name: "role", Usage: "account role (patient|psychologist|clinic)", Value: string(resources.RolePatient)},
			&cli.StringFlag{Name: "password", Usage: "account password (prompted when omitted)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
				password, err := passwordFrom(cmd)
				if err != nil {
					return err
				}

				session, err := client.Resources.Register(ctx, resources.RegisterRequest{
					Email:    cmd.String("email"),
					Password: password,
					Name:     cmd.String("name"),
					Role:     resources.Role(cmd.String("role")),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, session.User)
			})
		},
	}
}

// passwordFrom returns the --password flag or prompts for it without echo.
func passwordFrom(cmd *cli.Command) (string, error) {
	if cmd.IsSet("password") {
		return cmd.String("password"), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}

	fmt.Fprint(cmd.Root().ErrWriter, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.Root().ErrWriter)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(string(raw), "\r\n")
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "end the session and clear stored credentials",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
				return client.Resources.Logout(ctx)
			})
		},
	}
}

func meCommand() *cli.Command {
	return &cli.Command{
		Name:  "me",
		Usage: "show the signed-in account",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
				user, err := client.Resources.Me(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, user)
			})
		},
	}
}

// sessionStatus describes the stored session without contacting the backend.
type sessionStatus struct {
	Authenticated   bool       `json:"authenticated"`
	AccessToken     string     `json:"accessToken,omitempty"`
	HasRefreshToken bool       `json:"hasRefreshToken"`
	Subject         string     `json:"subject,omitempty"`
	Email           string     `json:"email,omitempty"`
	Role            string     `json:"role,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	Expired         bool       `json:"expired"`
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the stored session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
				status, err := readStatus(ctx, client.Store, time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}
}

// accessClaims is the subset of access token claims shown by status.
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// readStatus inspects stored credentials. Access token claims are decoded without
// verification; the signature is the backend's concern.
func readStatus(ctx context.Context, store credstore.Store, now time.Time) (sessionStatus, error) {
	var status sessionStatus

	access, err := store.AccessToken(ctx)
	switch {
	case errors.Is(err, credstore.ErrNotFound):
		return status, nil
	case err != nil:
		return status, fmt.Errorf("reading access token: %w", err)
	}
	status.Authenticated = true
	status.AccessToken = redact.Tail(access)

	_, err = store.RefreshToken(ctx)
	switch {
	case err == nil:
		status.HasRefreshToken = true
	case !errors.Is(err, credstore.ErrNotFound):
		return status, fmt.Errorf("reading refresh token: %w", err)
	}

	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		// Opaque access tokens carry no claims.
		return status, nil
	}

	status.Subject = claims.Subject
	if claims.Email != "" {
		status.Email = redact.Email(claims.Email)
	}
	status.Role = claims.Role
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.UTC()
		status.ExpiresAt = &exp
		status.Expired = !now.Before(exp)
	}
	return status, nil
}
