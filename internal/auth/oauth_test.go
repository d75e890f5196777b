package auth

import (
	"context"
	"fmt"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newapi-checkin/internal/account"
	"newapi-checkin/internal/mockprovider"
	"newapi-checkin/internal/provider"
)

type driverFunc func(ctx context.Context, req LoginRequest) (LoginResult, error)

func (f driverFunc) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	return f(ctx, req)
}

func mockSite(t *testing.T) provider.Config {
	t.Helper()
	mock := mockprovider.New(mockprovider.Options{
		Accounts:        []mockprovider.Account{{APIUser: 42, Session: "logged-in"}},
		OAuthCodes:      map[string]int64{"good-code": 42},
		GitHubClientID:  "gh-client",
		LinuxDoClientID: "ld-client",
	})
	srv := httptest.NewServer(mock.Router())
	t.Cleanup(srv.Close)

	cfg := provider.Builtins()[1]
	cfg.Name = "mock"
	cfg.Origin = srv.URL
	return cfg
}

func githubDescriptor() account.Descriptor {
	return account.Descriptor{Name: "A", GitHub: &account.Credentials{Username: "u", Password: "p"}}
}

func TestOAuth_DriverReturnsUser(t *testing.T) {
	t.Parallel()

	cfg := mockSite(t)
	var got LoginRequest
	driver := driverFunc(func(_ context.Context, req LoginRequest) (LoginResult, error) {
		got = req
		return LoginResult{APIUser: "42", Cookies: map[string]string{"session": "logged-in"}}, nil
	})

	s, err := NewOAuth(GitHub(), driver, OAuthOptions{}).Resolve(context.Background(), githubDescriptor(), Target{
		Provider: cfg,
		Bypass:   map[string]string{"acw_tc": "w"},
	})
	require.NoError(t, err)
	require.Equal(t, "github", s.Method)
	require.Equal(t, "42", s.APIUser)
	require.Equal(t, "logged-in", s.Cookies["session"])
	require.Equal(t, "w", s.Cookies["acw_tc"])

	u, err := url.Parse(got.AuthorizeURL)
	require.NoError(t, err)
	require.Equal(t, "github.com", u.Host)
	require.Equal(t, "gh-client", u.Query().Get("client_id"))
	require.Equal(t, "user:email", u.Query().Get("scope"))
	require.NotEmpty(t, u.Query().Get("state"))
	require.Equal(t, "u", got.Credentials.Username)
	require.Contains(t, got.Cookies, mockprovider.SessionCookie)
	require.Equal(t, "w", got.Cookies["acw_tc"])
}

func TestOAuth_ExchangesCode(t *testing.T) {
	t.Parallel()

	cfg := mockSite(t)
	driver := driverFunc(func(_ context.Context, req LoginRequest) (LoginResult, error) {
		u, _ := url.Parse(req.AuthorizeURL)
		require.Equal(t, "ld-client", u.Query().Get("client_id"))
		return LoginResult{Code: "good-code", State: u.Query().Get("state")}, nil
	})

	d := account.Descriptor{Name: "B", LinuxDo: &account.Credentials{Username: "u", Password: "p"}}
	s, err := NewOAuth(LinuxDo(), driver, OAuthOptions{}).Resolve(context.Background(), d, Target{Provider: cfg})
	require.NoError(t, err)
	require.Equal(t, "linux.do", s.Method)
	require.Equal(t, "42", s.APIUser)
	require.Equal(t, "logged-in", s.Cookies[mockprovider.SessionCookie])
}

func TestOAuth_BadCodeIsUnexpectedPage(t *testing.T) {
	t.Parallel()

	cfg := mockSite(t)
	driver := driverFunc(func(_ context.Context, req LoginRequest) (LoginResult, error) {
		return LoginResult{Code: "stolen", State: "whatever"}, nil
	})

	_, err := NewOAuth(GitHub(), driver, OAuthOptions{}).Resolve(context.Background(), githubDescriptor(), Target{Provider: cfg})
	require.ErrorIs(t, err, ErrUnexpectedPage)
}

func TestOAuth_InvalidCredentials(t *testing.T) {
	t.Parallel()

	cfg := mockSite(t)
	driver := driverFunc(func(context.Context, LoginRequest) (LoginResult, error) {
		return LoginResult{}, fmt.Errorf("%w: Incorrect username or password.", ErrInvalidCredentials)
	})

	_, err := NewOAuth(GitHub(), driver, OAuthOptions{}).Resolve(context.Background(), githubDescriptor(), Target{Provider: cfg})

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, KindInvalidCredentials, aerr.Kind)
	require.Equal(t, account.MethodGitHub, aerr.Method)
}

func TestOAuth_LoginTimeout(t *testing.T) {
	t.Parallel()

	cfg := mockSite(t)
	driver := driverFunc(func(ctx context.Context, _ LoginRequest) (LoginResult, error) {
		<-ctx.Done()
		return LoginResult{}, fmt.Errorf("waiting for login form: %w", ctx.Err())
	})

	start := time.Now()
	_, err := NewOAuth(GitHub(), driver, OAuthOptions{LoginTimeout: 200 * time.Millisecond, HTTPTimeout: 100 * time.Millisecond}).
		Resolve(context.Background(), githubDescriptor(), Target{Provider: cfg})
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestOAuth_DisabledOnSite(t *testing.T) {
	t.Parallel()

	mock := mockprovider.New(mockprovider.Options{})
	srv := httptest.NewServer(mock.Router())
	t.Cleanup(srv.Close)
	cfg := provider.Builtins()[1]
	cfg.Origin = srv.URL

	called := false
	driver := driverFunc(func(context.Context, LoginRequest) (LoginResult, error) {
		called = true
		return LoginResult{}, nil
	})

	_, err := NewOAuth(LinuxDo(), driver, OAuthOptions{}).Resolve(context.Background(),
		account.Descriptor{Name: "C", LinuxDo: &account.Credentials{Username: "u", Password: "p"}},
		Target{Provider: cfg})
	require.ErrorIs(t, err, ErrUnexpectedPage)
	require.False(t, called)
}

func TestOAuth_ConfiguredClientIDSkipsStatus(t *testing.T) {
	t.Parallel()

	cfg := mockSite(t)
	cfg.GitHubClientID = "from-config"

	var authorize string
	driver := driverFunc(func(_ context.Context, req LoginRequest) (LoginResult, error) {
		authorize = req.AuthorizeURL
		return LoginResult{APIUser: "42", Cookies: map[string]string{"session": "logged-in"}}, nil
	})

	_, err := NewOAuth(GitHub(), driver, OAuthOptions{}).Resolve(context.Background(), githubDescriptor(), Target{Provider: cfg})
	require.NoError(t, err)
	require.Contains(t, authorize, "client_id=from-config")
}
