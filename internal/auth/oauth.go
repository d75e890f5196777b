package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"newapi-checkin/internal/account"
	"newapi-checkin/internal/pkg/httpclient"
	"newapi-checkin/internal/session"
)

// IdentityProvider describes an external login page and its OAuth authorize
// endpoint, including the selectors the browser driver interacts with.
type IdentityProvider struct {
	Method account.Method
	// Key names the provider in the site's status payload and callback path.
	Key      string
	LoginURL string
	AuthURL  string
	Scopes   []string

	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	ApproveSelector  string

	// ErrorSelectors match the login form's rejection banner.
	ErrorSelectors []string
	// SignedInSelectors match elements only rendered for a logged-in user.
	SignedInSelectors []string
	// LoginPaths are paths besides LoginURL's that the form posts to or is
	// re-rendered on.
	LoginPaths []string
	// ChallengeMarkers are URL fragments of pages a headless run cannot pass,
	// ChallengeSelectors the equivalent DOM elements (2FA prompts).
	ChallengeMarkers   []string
	ChallengeSelectors []string
}

func LinuxDo() IdentityProvider {
	return IdentityProvider{
		Method:            account.MethodLinuxDo,
		Key:               "linuxdo",
		LoginURL:          "https://linux.do/login",
		AuthURL:           "https://connect.linux.do/oauth2/authorize",
		UsernameSelector:  "#login-account-name",
		PasswordSelector:  "#login-account-password",
		SubmitSelector:    "#login-button",
		ApproveSelector:   `a[href^="/oauth2/approve"]`,
		ErrorSelectors:    []string{"#modal-alert.alert-error", ".login-modal .alert-error"},
		SignedInSelectors: []string{"#current-user"},
		LoginPaths:        []string{"/session"},
		ChallengeMarkers:  []string{"linux.do/challenge"},
	}
}

func GitHub() IdentityProvider {
	return IdentityProvider{
		Method:             account.MethodGitHub,
		Key:                "github",
		LoginURL:           "https://github.com/login",
		AuthURL:            "https://github.com/login/oauth/authorize",
		Scopes:             []string{"user:email"},
		UsernameSelector:   "#login_field",
		PasswordSelector:   "#password",
		SubmitSelector:     `input[type="submit"][value="Sign in"]`,
		ApproveSelector:    `button[type="submit"][name="authorize"]`,
		ErrorSelectors:     []string{"#js-flash-container .flash-error", ".flash-error"},
		SignedInSelectors:  []string{`meta[name="user-login"]:not([content=""])`},
		LoginPaths:         []string{"/session"},
		ChallengeMarkers:   []string{"/sessions/two-factor", "/sessions/verified-device"},
		ChallengeSelectors: []string{`input[name="otp"]`},
	}
}

type LoginRequest struct {
	IdentityProvider IdentityProvider
	Credentials      account.Credentials
	AuthorizeURL     string
	// Origin and Host of the provider site; the flow ends on Origin + "/oauth/".
	Origin string
	Host   string
	// Cookies seed the browser for the provider site (OAuth state, WAF).
	Cookies map[string]string
	Proxy   string
}

type LoginResult struct {
	Cookies map[string]string
	// APIUser is read from the site's localStorage once logged in.
	APIUser string
	// Code and State are set when the callback page was reached without a
	// logged-in user, so the code has to be exchanged over HTTP.
	Code  string
	State string
}

// LoginDriver runs the interactive part of an identity provider login.
type LoginDriver interface {
	Login(ctx context.Context, req LoginRequest) (LoginResult, error)
}

var newHTTPClient = httpclient.New

type OAuthOptions struct {
	HTTPTimeout  time.Duration
	LoginTimeout time.Duration
	UserAgent    string
	Logger       *zap.SugaredLogger
}

// OAuth logs in through an identity provider and turns the resulting site
// login into a session. One instance serves one identity provider.
type OAuth struct {
	idp    IdentityProvider
	driver LoginDriver
	opts   OAuthOptions
	log    *zap.SugaredLogger
}

func NewOAuth(idp IdentityProvider, driver LoginDriver, opts OAuthOptions) *OAuth {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 3 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &OAuth{idp: idp, driver: driver, opts: opts, log: log.With("method", string(idp.Method))}
}

func (o *OAuth) Method() account.Method { return o.idp.Method }

func (o *OAuth) Resolve(ctx context.Context, d account.Descriptor, t Target) (*session.Session, error) {
	creds := d.Credentials(o.idp.Method)
	if creds == nil {
		return nil, &Error{Method: o.idp.Method, Kind: KindInvalidCredentials, Message: "no credentials configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.LoginTimeout)
	defer cancel()

	cfg := t.Provider
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, &Error{Method: o.idp.Method, Kind: KindUnexpectedPage, Message: "invalid provider origin", Err: err}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &Error{Method: o.idp.Method, Kind: KindUnexpectedPage, Err: err}
	}
	jar.SetCookies(origin, toHTTPCookies(t.Bypass))
	client := newHTTPClient(o.opts.HTTPTimeout, jar, t.Proxy)

	clientID, err := o.clientID(ctx, client, t)
	if err != nil {
		return nil, classify(o.idp.Method, err, "fetch oauth client id")
	}
	state, err := o.state(ctx, client, t)
	if err != nil {
		return nil, classify(o.idp.Method, err, "fetch oauth state")
	}

	oc := oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{AuthURL: o.idp.AuthURL},
		Scopes:   o.idp.Scopes,
	}
	req := LoginRequest{
		IdentityProvider: o.idp,
		Credentials:      *creds,
		AuthorizeURL:     oc.AuthCodeURL(state),
		Origin:           strings.TrimRight(cfg.Origin, "/"),
		Host:             origin.Hostname(),
		Cookies:          fromHTTPCookies(jar.Cookies(origin)),
		Proxy:            t.Proxy,
	}

	o.log.Infow("oauth_login_started", "account", d.Name, "provider", cfg.Name)
	res, err := o.driver.Login(ctx, req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrInvalidCredentials) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, classify(o.idp.Method, err, "")
	}

	if res.APIUser == "" && res.Code != "" {
		jar.SetCookies(origin, toHTTPCookies(res.Cookies))
		apiUser, err := o.exchange(ctx, client, t, res.Code, res.State)
		if err != nil {
			return nil, classify(o.idp.Method, err, "exchange oauth code")
		}
		res.APIUser = apiUser
		for k, v := range fromHTTPCookies(jar.Cookies(origin)) {
			if res.Cookies == nil {
				res.Cookies = map[string]string{}
			}
			res.Cookies[k] = v
		}
	}
	if res.APIUser == "" {
		return nil, &Error{Method: o.idp.Method, Kind: KindUnexpectedPage, Message: "login finished without a user id"}
	}

	s := session.New(string(o.idp.Method), res.Cookies, res.APIUser)
	t.apply(s)
	o.log.Infow("oauth_login_succeeded", "account", d.Name, "provider", cfg.Name, "cookies", s.CookieNames())
	return s, nil
}

func (o *OAuth) clientID(ctx context.Context, client *http.Client, t Target) (string, error) {
	cfg := t.Provider
	switch o.idp.Method {
	case account.MethodGitHub:
		if cfg.GitHubClientID != "" {
			return cfg.GitHubClientID, nil
		}
	case account.MethodLinuxDo:
		if cfg.LinuxDoClientID != "" {
			return cfg.LinuxDoClientID, nil
		}
	}

	res, err := o.getJSON(ctx, client, t, cfg.StatusURL(), "")
	if err != nil {
		return "", err
	}
	data := res.Get("data")
	if !data.Get(o.idp.Key + "_oauth").Bool() {
		return "", fmt.Errorf("%w: %s oauth is not enabled on %s", ErrUnexpectedPage, o.idp.Key, cfg.Name)
	}
	id := data.Get(o.idp.Key + "_client_id").String()
	if id == "" {
		return "", fmt.Errorf("%w: %s client id missing from status", ErrUnexpectedPage, o.idp.Key)
	}
	return id, nil
}

func (o *OAuth) state(ctx context.Context, client *http.Client, t Target) (string, error) {
	res, err := o.getJSON(ctx, client, t, t.Provider.AuthStateURL(), "-1")
	if err != nil {
		return "", err
	}
	state := res.Get("data").String()
	if state == "" {
		return "", fmt.Errorf("%w: empty oauth state", ErrUnexpectedPage)
	}
	return state, nil
}

func (o *OAuth) exchange(ctx context.Context, client *http.Client, t Target, code, state string) (string, error) {
	q := url.Values{"code": {code}}
	if state != "" {
		q.Set("state", state)
	}
	res, err := o.getJSON(ctx, client, t, t.Provider.OAuthCallbackURL(o.idp.Key)+"?"+q.Encode(), "")
	if err != nil {
		return "", err
	}
	id := res.Get("data.id").String()
	if id == "" {
		return "", fmt.Errorf("%w: no user id in oauth callback response", ErrUnexpectedPage)
	}
	return id, nil
}

// getJSON fetches a newapi envelope and fails unless success is true.
func (o *OAuth) getJSON(ctx context.Context, client *http.Client, t Target, target, apiUser string) (gjson.Result, error) {
	cfg := t.Provider
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", cfg.LoginURL())
	req.Header.Set("Origin", cfg.Origin)
	if o.opts.UserAgent != "" {
		req.Header.Set("User-Agent", o.opts.UserAgent)
	}
	if apiUser != "" {
		req.Header.Set(cfg.APIUserKey, apiUser)
	}
	for k, vs := range t.Header {
		req.Header[k] = vs
	}

	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: GET %s returned HTTP %d", ErrUnexpectedPage, req.URL.Path, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: GET %s returned a non-JSON body", ErrUnexpectedPage, req.URL.Path)
	}
	res := gjson.ParseBytes(body)
	if !res.Get("success").Bool() {
		return gjson.Result{}, fmt.Errorf("%w: GET %s: %s", ErrUnexpectedPage, req.URL.Path, res.Get("message").String())
	}
	return res, nil
}

func toHTTPCookies(m map[string]string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(m))
	for k, v := range m {
		out = append(out, &http.Cookie{Name: k, Value: v, Path: "/"})
	}
	return out
}

func fromHTTPCookies(cs []*http.Cookie) map[string]string {
	out := make(map[string]string, len(cs))
	for _, c := range cs {
		out[c.Name] = c.Value
	}
	return out
}
