package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"newapi-checkin/internal/pkg/httpclient"
	"newapi-checkin/internal/session"
)

const maxBodyBytes = 1 << 20

var newHTTPClient = httpclient.New

type NewAPIOptions struct {
	HTTPTimeout time.Duration
	UserAgent   string
	// MinInterval spaces out requests to the same provider across accounts.
	MinInterval time.Duration
	Logger      *zap.SugaredLogger
}

// NewAPIAdapter performs the check-in against a newapi.ai-compatible backend.
type NewAPIAdapter struct {
	cfg     Config
	opts    NewAPIOptions
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func NewAPIFactory(opts NewAPIOptions) Factory {
	return func(cfg Config) Adapter { return NewNewAPIAdapter(cfg, opts) }
}

func NewNewAPIAdapter(cfg Config, opts NewAPIOptions) *NewAPIAdapter {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &NewAPIAdapter{
		cfg:     cfg,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With("provider", cfg.Name),
	}
}

func (a *NewAPIAdapter) Name() string   { return a.cfg.Name }
func (a *NewAPIAdapter) Config() Config { return a.cfg }

func (a *NewAPIAdapter) CheckIn(ctx context.Context, s *session.Session) (Outcome, error) {
	if s == nil || s.APIUser == "" {
		return Outcome{}, &Error{Provider: a.cfg.Name, Kind: KindUnauthorized, Message: "session has no api user"}
	}

	client, err := a.client(s)
	if err != nil {
		return Outcome{}, &Error{Provider: a.cfg.Name, Kind: KindUnexpected, Err: err}
	}

	var out Outcome
	if signIn := a.cfg.SignInURL(); signIn != "" {
		status, body, err := a.do(ctx, client, http.MethodPost, signIn, s)
		if err != nil {
			return Outcome{}, err
		}
		out, err = interpretCheckIn(a.cfg.Name, status, body)
		if err != nil {
			return Outcome{}, err
		}
		a.log.Debugw("checkin_response", "status", status, "already", out.AlreadyCheckedIn)
	} else {
		out = Outcome{Success: true, Message: "Check-in completed by user info request"}
	}

	status, body, err := a.do(ctx, client, http.MethodGet, a.cfg.UserInfoURL(), s)
	if err == nil {
		var bal Balance
		bal, err = interpretUserInfo(a.cfg.Name, status, body)
		if err == nil {
			out.Balance = &bal
			return out, nil
		}
	}

	// Without a sign-in endpoint the user info request is the check-in,
	// and a rejected session is a failure either way.
	if a.cfg.SignInURL() == "" || errors.Is(err, ErrUnauthorized) {
		return Outcome{}, err
	}
	a.log.Warnw("user_info_failed", "err", err)
	return out, nil
}

func (a *NewAPIAdapter) client(s *session.Session) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	origin, err := url.Parse(a.cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, name := range s.CookieNames() {
		cookies = append(cookies, &http.Cookie{Name: name, Value: s.Cookies[name], Path: "/"})
	}
	jar.SetCookies(origin, cookies)
	return newHTTPClient(a.opts.HTTPTimeout, jar, s.Proxy), nil
}

func (a *NewAPIAdapter) do(ctx context.Context, client *http.Client, method, target string, s *session.Session) (int, []byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, nil, &Error{Provider: a.cfg.Name, Kind: KindUnexpected, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, &Error{Provider: a.cfg.Name, Kind: KindUnexpected, Err: err}
	}
	a.setHeaders(req, s)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, &Error{Provider: a.cfg.Name, Kind: KindUnexpected, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Provider: a.cfg.Name, Kind: KindUnexpected, Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

func (a *NewAPIAdapter) setHeaders(req *http.Request, s *session.Session) {
	h := req.Header
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "en,en-US;q=0.9,zh;q=0.8,zh-CN;q=0.7")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	if a.opts.UserAgent != "" {
		h.Set("User-Agent", a.opts.UserAgent)
	}
	h.Set("Referer", a.cfg.LoginURL())
	h.Set("Origin", a.cfg.Origin)
	h.Set(a.cfg.APIUserKey, s.APIUser)
	if req.Method == http.MethodPost {
		h.Set("Content-Type", "application/json")
		h.Set("X-Requested-With", "XMLHttpRequest")
	}
	for k, vs := range s.Header {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
}
