package auth

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"newapi-checkin/internal/account"
	"newapi-checkin/internal/provider"
	"newapi-checkin/internal/session"
)

// WAFCookieNames are the anti-bot cookies some providers require on every request.
var WAFCookieNames = []string{"acw_tc", "cdn_sec_tc", "acw_sc__v2"}

// CFCookieNames are the Cloudflare cookies kept from a clearance run.
var CFCookieNames = []string{"cf_clearance", "__cf_bm", "cf_chl_2", "cf_chl_prog"}

// CookieCollector loads a page in a fresh browser and returns the cookies it set.
type CookieCollector interface {
	PageCookies(ctx context.Context, pageURL, proxy string) (map[string]string, error)
}

// Clearance is what a browser that passed a Cloudflare challenge hands on:
// its cookies and the fingerprint headers they are bound to.
type Clearance struct {
	Cookies map[string]string
	Header  http.Header
}

// ClearanceCollector passes a Cloudflare challenge in a fresh browser.
type ClearanceCollector interface {
	PageClearance(ctx context.Context, pageURL, proxy string) (Clearance, error)
}

// Chain tries each configured method of a descriptor once, in priority order.
type Chain struct {
	methods    map[account.Method]Authenticator
	collector  CookieCollector
	clearance  ClearanceCollector
	wafTimeout time.Duration
	proxy      string
	log        *zap.SugaredLogger
}

type ChainOptions struct {
	// Collector is optional; without it WAF cookies are not collected.
	Collector CookieCollector
	// Clearance is optional; without it cf_clearance providers get no bypass.
	Clearance  ClearanceCollector
	WAFTimeout time.Duration
	// Proxy is used for accounts without their own.
	Proxy string
	Logger     *zap.SugaredLogger
}

func NewChain(opts ChainOptions, authenticators ...Authenticator) *Chain {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.WAFTimeout <= 0 {
		opts.WAFTimeout = time.Minute
	}
	c := &Chain{
		methods:    make(map[account.Method]Authenticator, len(authenticators)),
		collector:  opts.Collector,
		clearance:  opts.Clearance,
		proxy:      opts.Proxy,
		wafTimeout: opts.WAFTimeout,
		log:        log,
	}
	for _, a := range authenticators {
		c.methods[a.Method()] = a
	}
	return c
}

// Resolve returns the first session produced. When all methods fail the
// error is an *ExhaustedError listing each attempt.
func (c *Chain) Resolve(ctx context.Context, d account.Descriptor, cfg provider.Config) (*session.Session, error) {
	target := c.target(ctx, d, cfg)

	var attempts []error
	for _, m := range d.Methods() {
		a, ok := c.methods[m]
		if !ok {
			attempts = append(attempts, &Error{Method: m, Kind: KindUnexpectedPage, Message: "no authenticator available"})
			continue
		}

		s, err := a.Resolve(ctx, d, target)
		if err == nil {
			c.log.Infow("auth_method_succeeded", "account", d.Name, "method", string(m))
			return s, nil
		}
		c.log.Warnw("auth_method_failed", "account", d.Name, "method", string(m), "err", err)
		attempts = append(attempts, err)

		if ctx.Err() != nil {
			break
		}
	}
	return nil, &ExhaustedError{Attempts: attempts}
}

// target collects the bypass state the provider needs. A failure is logged
// and the attempt continues without it.
func (c *Chain) target(ctx context.Context, d account.Descriptor, cfg provider.Config) Target {
	t := Target{Provider: cfg, Proxy: d.Proxy}
	if t.Proxy == "" {
		t.Proxy = c.proxy
	}
	switch {
	case cfg.NeedsWAFCookies() && c.collector != nil:
		ctx, cancel := context.WithTimeout(ctx, c.wafTimeout)
		defer cancel()

		all, err := c.collector.PageCookies(ctx, cfg.LoginURL(), t.Proxy)
		if err != nil {
			c.log.Warnw("waf_cookies_failed", "account", d.Name, "provider", cfg.Name, "err", err)
			return t
		}
		t.Bypass = pick(all, WAFCookieNames)
		if len(t.Bypass) == 0 {
			c.log.Warnw("waf_cookies_missing", "account", d.Name, "provider", cfg.Name)
			t.Bypass = nil
			return t
		}
		c.log.Infow("waf_cookies_collected", "account", d.Name, "provider", cfg.Name, "count", len(t.Bypass))

	case cfg.NeedsCFClearance() && c.clearance != nil:
		ctx, cancel := context.WithTimeout(ctx, c.wafTimeout)
		defer cancel()

		cl, err := c.clearance.PageClearance(ctx, cfg.LoginURL(), t.Proxy)
		if err != nil {
			c.log.Warnw("cf_clearance_failed", "account", d.Name, "provider", cfg.Name, "err", err)
			return t
		}
		// The fingerprint is kept even without the cookie: the site checks
		// that every request comes from the same browser.
		t.Header = cl.Header.Clone()
		t.Bypass = pick(cl.Cookies, CFCookieNames)
		if _, ok := t.Bypass["cf_clearance"]; !ok {
			c.log.Warnw("cf_clearance_missing", "account", d.Name, "provider", cfg.Name)
		} else {
			c.log.Infow("cf_clearance_collected", "account", d.Name, "provider", cfg.Name, "count", len(t.Bypass))
		}
	}
	if len(t.Bypass) == 0 {
		t.Bypass = nil
	}
	return t
}

func pick(all map[string]string, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := all[name]; ok && v != "" {
			out[name] = v
		}
	}
	return out
}
