package checkin

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newapi-checkin/internal/account"
	"newapi-checkin/internal/auth"
	"newapi-checkin/internal/mockprovider"
	"newapi-checkin/internal/provider"
	"newapi-checkin/internal/session"
)

type fakeAdapter struct {
	name    string
	checkIn func(ctx context.Context, s *session.Session) (provider.Outcome, error)
}

func (f *fakeAdapter) Name() string            { return f.name }
func (f *fakeAdapter) Config() provider.Config { return provider.Config{Name: f.name, Origin: "https://" + f.name + ".test"} }
func (f *fakeAdapter) CheckIn(ctx context.Context, s *session.Session) (provider.Outcome, error) {
	return f.checkIn(ctx, s)
}

type providersMap map[string]provider.Adapter

func (p providersMap) Get(name string) (provider.Adapter, bool) {
	a, ok := p[name]
	return a, ok
}

type resolverFunc func(ctx context.Context, d account.Descriptor, cfg provider.Config) (*session.Session, error)

func (f resolverFunc) Resolve(ctx context.Context, d account.Descriptor, cfg provider.Config) (*session.Session, error) {
	return f(ctx, d, cfg)
}

func cookieResolver() Resolver {
	return auth.NewChain(auth.ChainOptions{}, auth.NewCookie())
}

func cookieAccount(name, providerName, apiUser string) account.Descriptor {
	return account.Descriptor{
		Name:     name,
		Provider: providerName,
		Cookies:  map[string]string{"session": name},
		APIUser:  apiUser,
	}
}

func TestRun_PartialFailureAgainstSite(t *testing.T) {
	t.Parallel()

	mock := mockprovider.New(mockprovider.Options{
		Accounts: []mockprovider.Account{
			{APIUser: 1, Session: "x", Quota: 10 * 500000},
			{APIUser: 2, Session: "good"},
		},
	})
	srv := httptest.NewServer(mock.Router())
	t.Cleanup(srv.Close)

	cfg := provider.Builtins()[0]
	cfg.Name = "mock"
	cfg.Origin = srv.URL
	cfg.BypassMethod = ""

	reg := provider.NewRegistry(nil)
	reg.Register(provider.NewNewAPIAdapter(cfg, provider.NewAPIOptions{HTTPTimeout: 5 * time.Second}))

	accounts := []account.Descriptor{
		{Name: "A", Provider: "mock", Cookies: map[string]string{"session": "x"}, APIUser: "1"},
		{Name: "B", Provider: "mock", Cookies: map[string]string{"session": "bad"}, APIUser: "2"},
	}

	summary := New(cookieResolver(), reg, Options{}).Run(context.Background(), accounts)

	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, OverallSuccess, summary.Overall())
	require.Equal(t, 0, summary.ExitCode())

	a, b := summary.Results[0], summary.Results[1]
	require.Equal(t, "A", a.AccountName)
	require.Equal(t, StateSucceeded, a.Status)
	require.Equal(t, "cookies", a.Method)
	require.NotNil(t, a.Balance)
	require.InDelta(t, 35.0, a.Balance.Quota, 0.001)

	require.Equal(t, "B", b.AccountName)
	require.Equal(t, StateFailed, b.Status)
	require.Equal(t, KindUnauthorized, b.Kind)
	require.NotEmpty(t, b.Message)
	require.NotEmpty(t, summary.RunID)
}

type driverFunc func(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)

func (f driverFunc) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	return f(ctx, req)
}

func TestRun_InvalidCredentialsFailsRun(t *testing.T) {
	t.Parallel()

	mock := mockprovider.New(mockprovider.Options{LinuxDoClientID: "ld"})
	srv := httptest.NewServer(mock.Router())
	t.Cleanup(srv.Close)

	cfg := provider.Builtins()[1]
	cfg.Name = "mock"
	cfg.Origin = srv.URL

	reg := provider.NewRegistry(nil)
	reg.Register(provider.NewNewAPIAdapter(cfg, provider.NewAPIOptions{}))

	rejected := driverFunc(func(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
		return auth.LoginResult{}, fmt.Errorf("%w: wrong password", auth.ErrInvalidCredentials)
	})
	chain := auth.NewChain(auth.ChainOptions{},
		auth.NewCookie(),
		auth.NewOAuth(auth.LinuxDo(), rejected, auth.OAuthOptions{}),
	)

	accounts := []account.Descriptor{{
		Name:     "A",
		Provider: "mock",
		LinuxDo:  &account.Credentials{Username: "u", Password: "wrong"},
	}}
	summary := New(chain, reg, Options{}).Run(context.Background(), accounts)

	require.Equal(t, 1, summary.Total)
	require.Equal(t, 0, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, OverallFailure, summary.Overall())
	require.NotEqual(t, 0, summary.ExitCode())
	require.Equal(t, KindInvalidCredentials, summary.Results[0].Kind)
	require.Empty(t, summary.Results[0].Method)
}

func TestRun_PreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{name: "p", checkIn: func(ctx context.Context, s *session.Session) (provider.Outcome, error) {
		// Later accounts finish first.
		var n int
		_, _ = fmt.Sscanf(s.APIUser, "%d", &n)
		time.Sleep(time.Duration(10-n) * 5 * time.Millisecond)
		return provider.Outcome{Success: true, Message: "ok " + s.APIUser}, nil
	}}

	var accounts []account.Descriptor
	for i := 0; i < 10; i++ {
		accounts = append(accounts, cookieAccount(fmt.Sprintf("acct-%d", i), "p", fmt.Sprint(i)))
	}

	summary := New(cookieResolver(), providersMap{"p": adapter}, Options{Concurrency: 4}).Run(context.Background(), accounts)

	require.Len(t, summary.Results, 10)
	for i, r := range summary.Results {
		require.Equal(t, fmt.Sprintf("acct-%d", i), r.AccountName)
		require.Equal(t, fmt.Sprintf("ok %d", i), r.Message)
		require.False(t, r.Timestamp.IsZero())
	}
	require.Equal(t, 10, summary.Succeeded)
}

func TestRun_ConcurrencyIsBounded(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	adapter := &fakeAdapter{name: "p", checkIn: func(context.Context, *session.Session) (provider.Outcome, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return provider.Outcome{Success: true}, nil
	}}

	var accounts []account.Descriptor
	for i := 0; i < 8; i++ {
		accounts = append(accounts, cookieAccount(fmt.Sprintf("a%d", i), "p", "1"))
	}
	New(cookieResolver(), providersMap{"p": adapter}, Options{Concurrency: 2}).Run(context.Background(), accounts)

	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_PanicIsIsolated(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{name: "p", checkIn: func(_ context.Context, s *session.Session) (provider.Outcome, error) {
		if s.APIUser == "1" {
			panic("boom")
		}
		return provider.Outcome{Success: true}, nil
	}}

	accounts := []account.Descriptor{cookieAccount("A", "p", "1"), cookieAccount("B", "p", "2")}
	summary := New(cookieResolver(), providersMap{"p": adapter}, Options{}).Run(context.Background(), accounts)

	require.Equal(t, StateFailed, summary.Results[0].Status)
	require.Equal(t, KindInternal, summary.Results[0].Kind)
	require.Contains(t, summary.Results[0].Message, "boom")
	require.Equal(t, StateSucceeded, summary.Results[1].Status)
	require.Equal(t, 0, summary.ExitCode())
}

func TestRun_AuthFailureDoesNotStopLaterAccounts(t *testing.T) {
	t.Parallel()

	resolver := resolverFunc(func(_ context.Context, d account.Descriptor, _ provider.Config) (*session.Session, error) {
		if d.Name == "A" {
			return nil, &auth.ExhaustedError{Attempts: []error{
				&auth.Error{Method: account.MethodLinuxDo, Kind: auth.KindInvalidCredentials, Message: "rejected"},
			}}
		}
		return session.New("cookies", d.Cookies, d.APIUser), nil
	})
	adapter := &fakeAdapter{name: "p", checkIn: func(context.Context, *session.Session) (provider.Outcome, error) {
		return provider.Outcome{Success: true, AlreadyCheckedIn: true}, nil
	}}

	accounts := []account.Descriptor{cookieAccount("A", "p", "1"), cookieAccount("B", "p", "2"), cookieAccount("C", "p", "3")}
	summary := New(resolver, providersMap{"p": adapter}, Options{}).Run(context.Background(), accounts)

	require.Equal(t, KindInvalidCredentials, summary.Results[0].Kind)
	require.True(t, summary.Results[1].Succeeded())
	require.True(t, summary.Results[1].AlreadyCheckedIn)
	require.Equal(t, "Already checked in today", summary.Results[1].Message)
	require.True(t, summary.Results[2].Succeeded())
	require.Equal(t, 2, summary.Succeeded)
}

func TestRun_BudgetMarksInFlightAsTimeout(t *testing.T) {
	t.Parallel()

	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })

	adapter := &fakeAdapter{name: "p", checkIn: func(ctx context.Context, s *session.Session) (provider.Outcome, error) {
		switch s.APIUser {
		case "1":
			return provider.Outcome{Success: true}, nil
		case "2":
			<-ctx.Done()
			return provider.Outcome{}, &provider.Error{Provider: "p", Kind: provider.KindUnexpected, Err: ctx.Err()}
		default:
			// Ignores cancellation entirely.
			<-stuck
			return provider.Outcome{Success: true}, nil
		}
	}}

	accounts := []account.Descriptor{
		cookieAccount("fast", "p", "1"),
		cookieAccount("cancellable", "p", "2"),
		cookieAccount("stuck", "p", "3"),
		cookieAccount("queued", "p", "4"),
	}

	start := time.Now()
	summary := New(cookieResolver(), providersMap{"p": adapter}, Options{
		Concurrency: 3,
		RunTimeout:  100 * time.Millisecond,
		Grace:       100 * time.Millisecond,
	}).Run(context.Background(), accounts)
	require.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, summary.Results, 4)
	require.True(t, summary.Results[0].Succeeded())
	for _, r := range summary.Results[1:] {
		require.Equal(t, StateFailed, r.Status, r.AccountName)
		require.Equal(t, KindTimeout, r.Kind, r.AccountName)
	}
	require.Equal(t, "queued", summary.Results[3].AccountName)
	require.Equal(t, 0, summary.ExitCode())
}

func TestRun_RetriesRateLimitedOnly(t *testing.T) {
	t.Parallel()

	var limitedCalls, brokenCalls atomic.Int32
	adapter := &fakeAdapter{name: "p", checkIn: func(_ context.Context, s *session.Session) (provider.Outcome, error) {
		if s.APIUser == "1" {
			if limitedCalls.Add(1) < 3 {
				return provider.Outcome{}, &provider.Error{Provider: "p", Kind: provider.KindRateLimited, Status: 429}
			}
			return provider.Outcome{Success: true}, nil
		}
		brokenCalls.Add(1)
		return provider.Outcome{}, &provider.Error{Provider: "p", Kind: provider.KindUnauthorized, Status: 401}
	}}

	accounts := []account.Descriptor{cookieAccount("limited", "p", "1"), cookieAccount("stale", "p", "2")}
	summary := New(cookieResolver(), providersMap{"p": adapter}, Options{
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}).Run(context.Background(), accounts)

	require.True(t, summary.Results[0].Succeeded())
	require.Equal(t, int32(3), limitedCalls.Load())
	require.Equal(t, KindUnauthorized, summary.Results[1].Kind)
	require.Equal(t, int32(1), brokenCalls.Load())
}

func TestRun_RateLimitedGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	adapter := &fakeAdapter{name: "p", checkIn: func(context.Context, *session.Session) (provider.Outcome, error) {
		calls.Add(1)
		return provider.Outcome{}, &provider.Error{Provider: "p", Kind: provider.KindRateLimited, Status: 429}
	}}

	summary := New(cookieResolver(), providersMap{"p": adapter}, Options{RetryAttempts: 1, RetryBackoff: time.Millisecond}).
		Run(context.Background(), []account.Descriptor{cookieAccount("A", "p", "1")})

	require.Equal(t, KindRateLimited, summary.Results[0].Kind)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, 1, summary.ExitCode())
}

func TestRun_SessionsAreNotShared(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{name: "p", checkIn: func(_ context.Context, s *session.Session) (provider.Outcome, error) {
		s.Cookies["mutated"] = "yes"
		s.Header.Set("X-Mutated", "yes")
		return provider.Outcome{}, &provider.Error{Provider: "p", Kind: provider.KindRateLimited}
	}}

	shared := session.New("cookies", map[string]string{"session": "s"}, "1")
	resolver := resolverFunc(func(context.Context, account.Descriptor, provider.Config) (*session.Session, error) {
		return shared, nil
	})

	New(resolver, providersMap{"p": adapter}, Options{RetryAttempts: 1, RetryBackoff: time.Millisecond}).
		Run(context.Background(), []account.Descriptor{cookieAccount("A", "p", "1")})

	require.NotContains(t, shared.Cookies, "mutated")
	require.Empty(t, shared.Header.Get("X-Mutated"))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	done, cancel := context.WithCancel(ctx)
	cancel()

	exhausted := &auth.ExhaustedError{Attempts: []error{
		&auth.Error{Method: account.MethodCookies, Kind: auth.KindInvalidCredentials},
		&auth.Error{Method: account.MethodGitHub, Kind: auth.KindTimeout},
	}}
	require.Equal(t, KindTimeout, kindOf(ctx, exhausted))
	require.Equal(t, KindUnauthorized, kindOf(ctx, fmt.Errorf("wrap: %w", &provider.Error{Kind: provider.KindUnauthorized})))
	require.Equal(t, KindTimeout, kindOf(done, &provider.Error{Kind: provider.KindUnexpected}))
	require.Equal(t, KindUnexpected, kindOf(ctx, errors.New("odd")))
}
