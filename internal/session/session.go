// Package session holds the authenticated context produced by an authenticator
// and consumed by a provider adapter for exactly one check-in attempt.
package session

import (
	"maps"
	"net/http"
	"sort"
	"strings"
)

type Session struct {
	// Method is the authentication method that produced this session.
	Method  string
	Cookies map[string]string
	APIUser string
	// Header carries extra request headers the provider expects, such as the
	// browser fingerprint a clearance cookie is bound to.
	Header http.Header
	// Proxy routes this session's requests; empty means direct.
	Proxy string
}

func New(method string, cookies map[string]string, apiUser string) *Session {
	return &Session{
		Method:  method,
		Cookies: maps.Clone(cookies),
		APIUser: strings.TrimSpace(apiUser),
		Header:  make(http.Header),
	}
}

// Merge adds cookies without overwriting the ones already present.
func (s *Session) Merge(cookies map[string]string) {
	if s.Cookies == nil {
		s.Cookies = make(map[string]string, len(cookies))
	}
	for k, v := range cookies {
		if _, ok := s.Cookies[k]; !ok {
			s.Cookies[k] = v
		}
	}
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := New(s.Method, s.Cookies, s.APIUser)
	out.Header = s.Header.Clone()
	out.Proxy = s.Proxy
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	return out
}

// CookieNames lists cookie names in sorted order, for logs.
func (s *Session) CookieNames() []string {
	names := make([]string, 0, len(s.Cookies))
	for k := range s.Cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CookieHeader renders the cookies as a single Cookie header value.
func (s *Session) CookieHeader() string {
	parts := make([]string, 0, len(s.Cookies))
	for _, k := range s.CookieNames() {
		parts = append(parts, k+"="+s.Cookies[k])
	}
	return strings.Join(parts, "; ")
}
