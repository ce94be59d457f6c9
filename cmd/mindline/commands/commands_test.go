package commands

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/florianilch/mindline/internal/devserver"
)

type harness struct {
	t       *testing.T
	baseURL string
	file    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	isolateConfigDir(t)

	srv, err := devserver.New(devserver.WithPasswordCost(bcrypt.MinCost))
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &harness{t: t, baseURL: ts.URL, file: filepath.Join(t.TempDir(), "credentials.json")}
}

// run executes the CLI and returns its standard output.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.Writer = &out
	cmd.ErrWriter = io.Discard

	full := append([]string{
		"mindline",
		"--env-file", filepath.Join(h.t.TempDir(), "none.env"),
		"--log-level", "error",
		"--api--base-url", h.baseURL,
		"--auth--storage", "file",
		"--auth--file", h.file,
	}, args...)

	err := cmd.Run(context.Background(), full)
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err)
	return out
}

func TestCLI_SessionLifecycle(t *testing.T) {
	h := newHarness(t)

	var status sessionStatus
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("status")), &status))
	assert.False(t, status.Authenticated)

	var user struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	out := h.mustRun("login", "--email", devserver.SeedPatientEmail, "--password", devserver.SeedPassword)
	require.NoError(t, json.Unmarshal([]byte(out), &user))
	assert.Equal(t, devserver.SeedPatientEmail, user.Email)
	assert.NotContains(t, out, "token", "tokens are not printed")

	require.NoError(t, json.Unmarshal([]byte(h.mustRun("status")), &status))
	assert.True(t, status.Authenticated)
	assert.True(t, status.HasRefreshToken)
	assert.Equal(t, "patient", status.Role)
	assert.Equal(t, "pa***@example.com", status.Email)
	assert.False(t, status.Expired)

	h.mustRun("logout")

	require.NoError(t, json.Unmarshal([]byte(h.mustRun("status")), &status))
	assert.False(t, status.Authenticated)

	_, err := h.run("me")
	assert.Error(t, err)
}

func TestCLI_ChatAndResources(t *testing.T) {
	h := newHarness(t)
	h.mustRun("login", "--email", devserver.SeedPatientEmail, "--password", devserver.SeedPassword)

	var convs []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("conversations", "list")), &convs))
	require.Len(t, convs, 1)

	var msg struct {
		Content  string `json:"content"`
		ClientID string `json:"clientId"`
	}
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("chat", "send", convs[0].ID, "feeling", "better")), &msg))
	assert.Equal(t, "feeling better", msg.Content)
	assert.NotEmpty(t, msg.ClientID)

	var psychologists []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("psychologists", "list")), &psychologists))
	assert.Len(t, psychologists, 2)

	var ticket struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("tickets", "create", "--subject", "Billing", "--body", "Question about my invoice")), &ticket))
	assert.Equal(t, "open", ticket.Status)

	_, err := h.run("invites", "create", "--email", "friend@example.com")
	assert.ErrorContains(t, err, "Only psychologists and clinics can invite")

	_, err = h.run("psychologists", "show")
	assert.ErrorContains(t, err, "expects 1 argument")
}

func TestCLI_WrongPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("login", "--email", devserver.SeedPatientEmail, "--password", "nope")
	assert.EqualError(t, err, "Invalid email or password")
}
