package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newapi-checkin/config"
	"newapi-checkin/internal/mockprovider"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, 2, exitCode(errUsage))
	require.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", errUsage)))
	require.Equal(t, 1, exitCode(&exitError{code: 1}))
	require.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestRunFlags_Overrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"cookies":"session=x","api_user":"1"}]`), 0o600))

	base := &config.Config{Accounts: "[]", Notify: config.NotifyConfig{Mode: config.NotifyChanges}}
	got, err := runFlags{accountsFile: path, notifyMode: " Always "}.overrides(base)
	require.NoError(t, err)
	require.Equal(t, `[{"cookies":"session=x","api_user":"1"}]`, got.Accounts)
	require.Equal(t, config.NotifyAlways, got.Notify.Mode)
	require.Equal(t, "[]", base.Accounts)

	_, err = runFlags{notifyMode: "sometimes"}.overrides(base)
	require.Error(t, err)

	_, err = runFlags{accountsFile: filepath.Join(t.TempDir(), "missing.json")}.overrides(base)
	require.Error(t, err)
}

// setupSite starts a mock provider and points the environment at it.
func setupSite(t *testing.T, accounts string) string {
	t.Helper()

	mock := mockprovider.New(mockprovider.Options{
		Accounts: []mockprovider.Account{{APIUser: 1, Session: "s1", Quota: 10 * 500000}},
	})
	srv := httptest.NewServer(mock.Router())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("ACCOUNTS", accounts)
	t.Setenv("PROVIDERS", fmt.Sprintf(`{"mock": {"origin": %q}}`, srv.URL))
	t.Setenv("DEFAULT_PROVIDER", "mock")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("BALANCE_HASH_FILE", filepath.Join(dir, "balance_hash.txt"))
	t.Setenv("NOTIFY_MODE", "never")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("LOGIN_TIMEOUT", "10s")
	t.Setenv("RUN_TIMEOUT", "30s")
	t.Setenv("PROVIDER_MIN_INTERVAL", "10ms")
	t.Setenv("CHECKIN_RETRY_ATTEMPTS", "0")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("TURSO_DATABASE_URL", "")
	t.Setenv("RABBITMQ_URL", "")
	return dir
}

func executeOut(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	code := exitCode(root.ExecuteContext(context.Background()))
	return out.String(), code
}

func TestRun_PartialSuccessExitsZero(t *testing.T) {
	dir := setupSite(t, `[
		{"name": "A", "cookies": {"session": "s1"}, "api_user": "1"},
		{"name": "B", "cookies": {"session": "stale"}, "api_user": "2"}
	]`)

	out, code := executeOut(t)
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "[SUCCESS] A")
	require.Contains(t, out, "[FAILED] B")
	require.Contains(t, out, "Success: 1/2")
	require.Contains(t, out, "Failed: 1/2")

	fp, err := os.ReadFile(filepath.Join(dir, "balance_hash.txt"))
	require.NoError(t, err)
	require.Len(t, bytes.TrimSpace(fp), 16)

	out, code = executeOut(t, "history", "--account", "A")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "succeeded")
	require.NotContains(t, out, "stale")
}

func TestRun_AllFailedExitsOne(t *testing.T) {
	setupSite(t, `[{"name": "B", "cookies": {"session": "stale"}, "api_user": "2"}]`)

	out, code := executeOut(t)
	require.Equal(t, 1, code, out)
	require.Contains(t, out, "Failed: 1/1")
}

func TestRun_InvalidAccountsExitsOne(t *testing.T) {
	setupSite(t, `[{"name": "A"}]`)

	out, code := executeOut(t)
	require.Equal(t, 1, code, out)
	require.NotContains(t, out, "Success:")
}

func TestValidate(t *testing.T) {
	setupSite(t, `[{"name": "A", "cookies": "session=s1", "api_user": 1, "github": {"username": "u", "password": "p"}}]`)

	out, code := executeOut(t, "validate")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "A (provider=mock methods=cookies,github)")
	require.Contains(t, out, "OK: 1 account(s) valid")
}

func TestProviders(t *testing.T) {
	setupSite(t, `[]`)

	out, code := executeOut(t, "providers")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "anyrouter")
	require.Contains(t, out, "agentrouter")
	require.Contains(t, out, "mock")
}

func TestUsageErrors(t *testing.T) {
	setupSite(t, `[]`)

	_, code := executeOut(t, "--no-such-flag")
	require.Equal(t, 2, code)

	_, code = executeOut(t, "history", "--limit", "0")
	require.Equal(t, 2, code)
}

func TestRunBatch_InterruptedRunStillReports(t *testing.T) {
	dir := setupSite(t, `[{"name": "A", "cookies": {"session": "s1"}, "api_user": "1"}]`)

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })
	t.Setenv("PROVIDERS", fmt.Sprintf(`{"mock": {"origin": %q}}`, slow.URL))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	defer cancel()

	var out bytes.Buffer
	err := runBatch(ctx, &out, runFlags{migrate: true})

	var exit *exitError
	require.ErrorAs(t, err, &exit)
	require.Equal(t, 1, exit.code)
	require.Contains(t, out.String(), "[FAILED] A")
	require.Contains(t, out.String(), "Failed: 1/1")

	_, err = os.Stat(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
}
