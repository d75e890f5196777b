// Package browser drives Chrome through the DevTools protocol for the parts of
// a login that only work in a real browser: identity provider forms, OAuth
// consent and WAF challenge cookies.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"newapi-checkin/internal/auth"
	"newapi-checkin/internal/pkg/chromedevtools"
	"newapi-checkin/internal/pkg/httpclient"
)

type Options struct {
	Headless  bool
	NoSandbox bool
	// RemoteURL points at an already running Chrome (ws:// or http://). Empty
	// starts a local Chrome per login.
	RemoteURL string
	ExecPath  string
	UserAgent string

	PollInterval time.Duration
	// CallbackWait bounds how long the site's callback page gets to store the
	// logged-in user before the code is handed back for an HTTP exchange.
	CallbackWait time.Duration
	// Settle is how long a page is left running before its cookies are read.
	Settle time.Duration
	// ClearanceWait bounds the wait for Cloudflare to set cf_clearance.
	ClearanceWait time.Duration
	Logger *zap.SugaredLogger
}

// Driver implements auth.LoginDriver and auth.CookieCollector. Every call
// gets its own browser context so accounts never share cookies.
type Driver struct {
	opts Options
	log  *zap.SugaredLogger
}

var (
	_ auth.LoginDriver        = (*Driver)(nil)
	_ auth.CookieCollector    = (*Driver)(nil)
	_ auth.ClearanceCollector = (*Driver)(nil)
)

func New(opts Options) *Driver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.CallbackWait <= 0 {
		opts.CallbackWait = 10 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 3 * time.Second
	}
	if opts.ClearanceWait <= 0 {
		opts.ClearanceWait = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Driver{opts: opts, log: log}
}

// newBrowser starts a browser context. A proxy only applies to a local Chrome;
// a remote browser keeps whatever proxy it was launched with.
func (d *Driver) newBrowser(ctx context.Context, proxy string) (context.Context, context.CancelFunc, error) {
	server, user, err := proxyServer(proxy)
	if err != nil {
		return nil, nil, err
	}
	if d.opts.RemoteURL != "" {
		if server != "" {
			d.log.Warnw("browser_proxy_ignored", "reason", "remote browser", "proxy", httpclient.Redact(proxy))
		}
		ws, err := chromedevtools.WebSocketURL(ctx, d.opts.RemoteURL, 5*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve remote browser: %w", err)
		}
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, ws)
		rootCtx, rootCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(rootCtx); err != nil {
			rootCancel()
			allocCancel()
			return nil, nil, fmt.Errorf("connect remote browser: %w", err)
		}
		tabCtx, tabCancel := chromedp.NewContext(rootCtx, chromedp.WithNewBrowserContext())
		return tabCtx, func() {
			tabCancel()
			rootCancel()
			allocCancel()
		}, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 900),
	)
	if d.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if d.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.opts.UserAgent))
	}
	if d.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.opts.ExecPath))
	}
	if server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(d.log.Debugf))
	cancel := func() {
		tabCancel()
		allocCancel()
	}
	if user != nil {
		if err := proxyAuth(tabCtx, user); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("proxy auth: %w", err)
		}
	}
	return tabCtx, cancel, nil
}

// proxyServer splits a proxy URL into the --proxy-server value and the
// credentials Chrome has to be given separately.
func proxyServer(proxy string) (string, *url.Userinfo, error) {
	u, err := httpclient.ParseProxy(proxy)
	if err != nil || u == nil {
		return "", nil, err
	}
	return u.Scheme + "://" + u.Host, u.User, nil
}

// proxyAuth answers the proxy's authentication challenges with user and lets
// every other paused request through.
func proxyAuth(ctx context.Context, user *url.Userinfo) error {
	pass, _ := user.Password()
	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueRequest(ev.RequestID))
			}()
		case *fetch.EventAuthRequired:
			resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
			if ev.AuthChallenge != nil && ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
				resp = &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: user.Username(),
					Password: pass,
				}
			}
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueWithAuth(ev.RequestID, resp))
			}()
		}
	})
	return chromedp.Run(ctx, fetch.Enable().WithHandleAuthRequests(true))
}

// Login fills the identity provider's form, follows the authorize URL and
// waits until the provider site has finished its callback.
func (d *Driver) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	bctx, cancel, err := d.newBrowser(ctx, req.Proxy)
	if err != nil {
		return auth.LoginResult{}, err
	}
	defer cancel()

	idp := req.IdentityProvider
	siteURL := req.Origin + "/"
	log := d.log.With("method", string(idp.Method), "host", req.Host)

	if err := chromedp.Run(bctx, network.Enable(), setCookies(siteURL, req.Cookies)); err != nil {
		return auth.LoginResult{}, fmt.Errorf("seed cookies: %w", err)
	}

	log.Debugw("browser_login_form")
	err = chromedp.Run(bctx,
		chromedp.Navigate(idp.LoginURL),
		chromedp.WaitVisible(idp.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(idp.UsernameSelector, req.Credentials.Username, chromedp.ByQuery),
		chromedp.SendKeys(idp.PasswordSelector, req.Credentials.Password, chromedp.ByQuery),
		chromedp.Click(idp.SubmitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return auth.LoginResult{}, fmt.Errorf("login form: %w", err)
	}
	if err := d.awaitSignedIn(bctx, idp); err != nil {
		return auth.LoginResult{}, err
	}

	log.Debugw("browser_authorize")
	if err := chromedp.Run(bctx, chromedp.Navigate(req.AuthorizeURL)); err != nil {
		return auth.LoginResult{}, fmt.Errorf("open authorize url: %w", err)
	}
	res, err := d.awaitCallback(bctx, req)
	if err != nil {
		return auth.LoginResult{}, err
	}

	var cookies []*network.Cookie
	err = chromedp.Run(bctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{siteURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return auth.LoginResult{}, fmt.Errorf("read site cookies: %w", err)
	}
	res.Cookies = filterCookies(cookies, req.Host)
	log.Debugw("browser_login_done", "cookies", len(res.Cookies), "has_user", res.APIUser != "")
	return res, nil
}

// PageCookies opens pageURL in a fresh browser, lets its scripts run and
// returns every cookie set for the page's host.
func (d *Driver) PageCookies(ctx context.Context, pageURL, proxy string) (map[string]string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	bctx, cancel, err := d.newBrowser(ctx, proxy)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var cookies []*network.Cookie
	err = chromedp.Run(bctx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(d.opts.Settle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{pageURL}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("collect cookies from %s: %w", u.Host, err)
	}
	return filterCookies(cookies, u.Hostname()), nil
}

// PageClearance opens pageURL, waits for Cloudflare to set cf_clearance and
// returns the page's cookies with the headers describing this browser. When
// ClearanceWait passes first, whatever was collected is returned.
func (d *Driver) PageClearance(ctx context.Context, pageURL, proxy string) (auth.Clearance, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return auth.Clearance{}, err
	}
	bctx, cancel, err := d.newBrowser(ctx, proxy)
	if err != nil {
		return auth.Clearance{}, err
	}
	defer cancel()

	if err := chromedp.Run(bctx, network.Enable(), chromedp.Navigate(pageURL)); err != nil {
		return auth.Clearance{}, fmt.Errorf("open %s: %w", u.Host, err)
	}

	var cookies map[string]string
	deadline := time.After(d.opts.ClearanceWait)
wait:
	for {
		var raw []*network.Cookie
		err := chromedp.Run(bctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			raw, err = network.GetCookies().WithURLs([]string{pageURL}).Do(ctx)
			return err
		}))
		if err == nil {
			cookies = filterCookies(raw, u.Hostname())
			if cookies["cf_clearance"] != "" {
				break
			}
		}

		select {
		case <-ctx.Done():
			return auth.Clearance{}, fmt.Errorf("waiting for cf_clearance: %w", ctx.Err())
		case <-deadline:
			d.log.Debugw("browser_cf_clearance_missing", "host", u.Host)
			break wait
		case <-time.After(d.opts.PollInterval):
		}
	}

	var fp string
	err = chromedp.Run(bctx, chromedp.Evaluate(fingerprintScript, &fp, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return auth.Clearance{}, fmt.Errorf("read browser fingerprint: %w", err)
	}
	return auth.Clearance{Cookies: cookies, Header: fingerprintHeaders(fp)}, nil
}

const fingerprintScript = `(async () => {
  const out = {ua: navigator.userAgent};
  const d = navigator.userAgentData;
  if (d) {
    out.brands = d.brands;
    out.mobile = d.mobile;
    out.platform = d.platform;
    Object.assign(out, await d.getHighEntropyValues(
      ["platformVersion", "architecture", "bitness", "fullVersionList", "model"]));
  }
  return JSON.stringify(out);
})()`

// fingerprintHeaders turns the fingerprint script's output into request
// headers. Client hints are only sent by browsers that expose them.
func fingerprintHeaders(raw string) http.Header {
	h := make(http.Header)
	fp := gjson.Parse(raw)
	ua := fp.Get("ua").String()
	if ua == "" {
		return h
	}
	h.Set("User-Agent", ua)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")

	brands := fp.Get("brands")
	if !brands.IsArray() || len(brands.Array()) == 0 {
		return h
	}
	h.Set("Sec-Ch-Ua", brandList(brands))
	if fp.Get("mobile").Bool() {
		h.Set("Sec-Ch-Ua-Mobile", "?1")
	} else {
		h.Set("Sec-Ch-Ua-Mobile", "?0")
	}
	h.Set("Sec-Ch-Ua-Platform", quote(fp.Get("platform").String()))
	if list := fp.Get("fullVersionList"); list.IsArray() && len(list.Array()) > 0 {
		h.Set("Sec-Ch-Ua-Full-Version-List", brandList(list))
	}
	for key, path := range map[string]string{
		"Sec-Ch-Ua-Platform-Version": "platformVersion",
		"Sec-Ch-Ua-Arch":             "architecture",
		"Sec-Ch-Ua-Bitness":          "bitness",
	} {
		if v := fp.Get(path); v.Exists() {
			h.Set(key, quote(v.String()))
		}
	}
	h.Set("Sec-Ch-Ua-Model", quote(fp.Get("model").String()))
	return h
}

func brandList(brands gjson.Result) string {
	parts := make([]string, 0, len(brands.Array()))
	for _, b := range brands.Array() {
		parts = append(parts, fmt.Sprintf("%s;v=%s", quote(b.Get("brand").String()), quote(b.Get("version").String())))
	}
	return strings.Join(parts, ", ")
}

func quote(s string) string { return `"` + s + `"` }

func (d *Driver) awaitSignedIn(ctx context.Context, idp auth.IdentityProvider) error {
	for {
		var loc, html string
		err := chromedp.Run(ctx, chromedp.Location(&loc), chromedp.OuterHTML("html", &html, chromedp.ByQuery))
		if err == nil {
			state, msg := classifyLoginPage(idp, loc, html)
			switch state {
			case pageSignedIn:
				return nil
			case pageRejected:
				return fmt.Errorf("%w: %s", auth.ErrInvalidCredentials, msg)
			case pageChallenge:
				return fmt.Errorf("%w: %s", auth.ErrUnexpectedPage, msg)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for sign-in: %w", ctx.Err())
		case <-time.After(d.opts.PollInterval):
		}
	}
}

func (d *Driver) awaitCallback(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	idp := req.IdentityProvider
	var (
		approved bool
		landed   time.Time
	)
	for {
		var loc, html string
		err := chromedp.Run(ctx, chromedp.Location(&loc), chromedp.OuterHTML("html", &html, chromedp.ByQuery))
		if err == nil {
			switch {
			case onOrigin(loc, req.Origin):
				if landed.IsZero() {
					landed = time.Now()
				}
				var raw string
				if err := chromedp.Run(ctx, chromedp.Evaluate(`localStorage.getItem('user') || ''`, &raw)); err == nil {
					if id := userIDFromStorage(raw); id != "" {
						return auth.LoginResult{APIUser: id}, nil
					}
				}
				if time.Since(landed) >= d.opts.CallbackWait {
					code, state := callbackParams(loc)
					if code == "" {
						return auth.LoginResult{}, fmt.Errorf("%w: callback page %s has no user and no code", auth.ErrUnexpectedPage, loc)
					}
					return auth.LoginResult{Code: code, State: state}, nil
				}
			default:
				if err := authorizePageError(idp, loc, html); err != nil {
					return auth.LoginResult{}, err
				}
				if !approved && hasElement(html, idp.ApproveSelector) {
					if err := chromedp.Run(ctx, chromedp.Click(idp.ApproveSelector, chromedp.ByQuery)); err == nil {
						approved = true
						d.log.Debugw("browser_oauth_approved", "method", string(idp.Method))
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return auth.LoginResult{}, fmt.Errorf("waiting for oauth callback: %w", ctx.Err())
		case <-time.After(d.opts.PollInterval):
		}
	}
}

func setCookies(siteURL string, cookies map[string]string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for name, value := range cookies {
			if err := network.SetCookie(name, value).WithURL(siteURL).Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", name, err)
			}
		}
		return nil
	})
}

type pageState int

const (
	pagePending pageState = iota
	pageSignedIn
	pageRejected
	pageChallenge
)

// classifyLoginPage decides where an identity provider login stands from the
// current location and document.
func classifyLoginPage(idp auth.IdentityProvider, location, html string) (pageState, string) {
	for _, m := range idp.ChallengeMarkers {
		if strings.Contains(location, m) {
			return pageChallenge, "challenge page " + location
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pagePending, ""
	}
	for _, sel := range idp.ChallengeSelectors {
		if doc.Find(sel).Length() > 0 {
			return pageChallenge, "verification required at " + location
		}
	}
	for _, sel := range idp.ErrorSelectors {
		if msg := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " "); msg != "" {
			return pageRejected, msg
		}
	}
	for _, sel := range idp.SignedInSelectors {
		if doc.Find(sel).Length() > 0 {
			return pageSignedIn, ""
		}
	}
	if doc.Find(idp.UsernameSelector).Length() > 0 {
		return pagePending, ""
	}

	// Without a logged-in marker, only a rendered page away from the login
	// paths counts. Blank documents show up while a form POST navigates.
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return pagePending, ""
	}
	if onLoginPath(idp, u.Path) {
		return pagePending, ""
	}
	body := doc.Find("body")
	if body.Children().Length() == 0 && strings.TrimSpace(body.Text()) == "" {
		return pagePending, ""
	}
	return pageSignedIn, ""
}

// authorizePageError reports identity provider pages that end the OAuth
// round trip: a challenge, a rejection banner or the login form again.
func authorizePageError(idp auth.IdentityProvider, location, html string) error {
	switch state, msg := classifyLoginPage(idp, location, html); {
	case state == pageChallenge:
		return fmt.Errorf("%w: %s", auth.ErrUnexpectedPage, msg)
	case state == pageRejected:
		return fmt.Errorf("%w: %s", auth.ErrInvalidCredentials, msg)
	case loginFormShown(idp, html):
		return fmt.Errorf("%w: login form shown again at %s", auth.ErrInvalidCredentials, location)
	}
	return nil
}

func loginFormShown(idp auth.IdentityProvider, html string) bool {
	return hasElement(html, idp.UsernameSelector) && hasElement(html, idp.PasswordSelector)
}

func onLoginPath(idp auth.IdentityProvider, path string) bool {
	path = strings.TrimRight(path, "/")
	if u, err := url.Parse(idp.LoginURL); err == nil && strings.TrimRight(u.Path, "/") == path {
		return true
	}
	for _, p := range idp.LoginPaths {
		if strings.TrimRight(p, "/") == path {
			return true
		}
	}
	return false
}

func hasElement(html, selector string) bool {
	if selector == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

func onOrigin(location, origin string) bool {
	return location == origin || strings.HasPrefix(location, origin+"/")
}

// userIDFromStorage reads the id of the user object newapi sites keep in
// localStorage under "user".
func userIDFromStorage(raw string) string {
	if raw == "" || !gjson.Valid(raw) {
		return ""
	}
	id := gjson.Get(raw, "id")
	if !id.Exists() || id.String() == "0" {
		return ""
	}
	return id.String()
}

func callbackParams(location string) (string, string) {
	u, err := url.Parse(location)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	return q.Get("code"), q.Get("state")
}

// filterCookies keeps the cookies that would be sent to host.
func filterCookies(cookies []*network.Cookie, host string) map[string]string {
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" || domain == host || strings.HasSuffix(host, "."+domain) {
			out[c.Name] = c.Value
		}
	}
	return out
}
