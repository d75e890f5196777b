// Package mockprovider serves a newapi-compatible site in-process. It backs
// `devtool mockprovider` and the HTTP tests of the check-in engine.
package mockprovider

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"newapi-checkin/internal/pkg/render"
)

const (
	SessionCookie = "session"
	WAFCookie     = "acw_tc"
)

type Account struct {
	APIUser   int64
	Session   string
	Quota     int64
	UsedQuota int64
}

type Options struct {
	Accounts []Account
	// RateLimited api users always get HTTP 429.
	RateLimited []int64
	// OAuthCodes maps an authorization code to the api user it logs in.
	OAuthCodes      map[string]int64
	APIUserKey      string
	Award           int64
	GitHubClientID  string
	LinuxDoClientID string
}

type Server struct {
	mu          sync.Mutex
	opts        Options
	accounts    map[int64]*Account
	rateLimited map[int64]bool
	checkedIn   map[int64]bool
	signIns     map[int64]int
	states      map[string]bool
}

func New(opts Options) *Server {
	if opts.APIUserKey == "" {
		opts.APIUserKey = "new-api-user"
	}
	if opts.Award == 0 {
		opts.Award = 25 * 500000
	}
	s := &Server{
		opts:        opts,
		accounts:    make(map[int64]*Account),
		rateLimited: make(map[int64]bool),
		checkedIn:   make(map[int64]bool),
		signIns:     make(map[int64]int),
		states:      make(map[string]bool),
	}
	for i := range opts.Accounts {
		a := opts.Accounts[i]
		s.accounts[a.APIUser] = &a
	}
	for _, id := range opts.RateLimited {
		s.rateLimited[id] = true
	}
	return s
}

// Router returns a standalone mux, for httptest servers.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	s.Mount(r)
	return r
}

// Mount serves the newapi endpoints the check-in client talks to.
func (s *Server) Mount(r chi.Router) {
	r.Get("/login", s.login)
	r.Get("/api/status", s.status)
	r.Get("/api/oauth/state", s.oauthState)
	r.Get("/api/oauth/{idp}", s.oauthCallback)
	r.Post("/api/user/sign_in", s.signIn)
	r.Get("/api/user/self", s.self)
}

// login serves the login page, which plants the WAF cookie like the real sites do.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: WAFCookie, Value: "mock-waf", Path: "/"})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!doctype html><html><head><title>Login</title></head><body><div id="app">login</div></body></html>`))
}

// SignIns reports how many sign-in requests an api user made.
func (s *Server) SignIns(apiUser int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signIns[apiUser]
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	render.ChiJSON(w, r, http.StatusOK, render.Envelope{
		Success: true,
		Data: map[string]any{
			"github_oauth":      s.opts.GitHubClientID != "",
			"github_client_id":  s.opts.GitHubClientID,
			"linuxdo_oauth":     s.opts.LinuxDoClientID != "",
			"linuxdo_client_id": s.opts.LinuxDoClientID,
		},
	})
}

func (s *Server) oauthState(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	s.mu.Lock()
	s.states[state] = true
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "pre-auth-" + state, Path: "/"})
	render.ChiOK(w, r, "", state)
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	s.mu.Lock()
	validState := s.states[state]
	apiUser, validCode := s.opts.OAuthCodes[code]
	acct := s.accounts[apiUser]
	s.mu.Unlock()

	if !validState || !validCode || acct == nil {
		render.ChiErr(w, r, http.StatusOK, "state or code is invalid")
		return
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: acct.Session, Path: "/"})
	render.ChiJSON(w, r, http.StatusOK, render.Envelope{
		Success: true,
		Data:    map[string]any{"id": acct.APIUser, "username": "user" + strconv.FormatInt(acct.APIUser, 10)},
	})
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, status := s.authorize(r)
	if acct == nil {
		writeDenied(w, r, status)
		return
	}
	s.signIns[acct.APIUser]++

	if s.checkedIn[acct.APIUser] {
		render.ChiErr(w, r, http.StatusOK, "今天已经签到过啦")
		return
	}
	s.checkedIn[acct.APIUser] = true
	acct.Quota += s.opts.Award
	render.ChiJSON(w, r, http.StatusOK, render.Envelope{
		Success: true,
		Message: "签到成功",
		Data:    map[string]any{"quota_awarded": s.opts.Award, "checkin_date": time.Now().Format("2006-01-02")},
	})
}

func (s *Server) self(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, status := s.authorize(r)
	if acct == nil {
		writeDenied(w, r, status)
		return
	}
	render.ChiJSON(w, r, http.StatusOK, render.Envelope{
		Success: true,
		Data: map[string]any{
			"id":          acct.APIUser,
			"quota":       acct.Quota,
			"used_quota":  acct.UsedQuota,
			"bonus_quota": 0,
		},
	})
}

// authorize must be called with s.mu held.
func (s *Server) authorize(r *http.Request) (*Account, int) {
	apiUser, err := strconv.ParseInt(r.Header.Get(s.opts.APIUserKey), 10, 64)
	if err != nil {
		return nil, http.StatusUnauthorized
	}
	if s.rateLimited[apiUser] {
		return nil, http.StatusTooManyRequests
	}
	acct := s.accounts[apiUser]
	c, err := r.Cookie(SessionCookie)
	if acct == nil || err != nil || c.Value != acct.Session {
		return nil, http.StatusUnauthorized
	}
	return acct, http.StatusOK
}

func writeDenied(w http.ResponseWriter, r *http.Request, status int) {
	msg := "无权进行此操作，未登录且未提供 access token"
	if status == http.StatusTooManyRequests {
		msg = "请求过于频繁"
	}
	render.ChiErr(w, r, status, msg)
}
