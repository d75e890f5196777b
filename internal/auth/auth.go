// Package auth resolves a credential descriptor into a session, trying the
// configured methods in a fixed priority order.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"newapi-checkin/internal/account"
	"newapi-checkin/internal/provider"
	"newapi-checkin/internal/session"
)

// Target is the provider being authenticated against, plus any bypass
// cookies already collected for it. Header holds the browser fingerprint
// those cookies are bound to; every request using them must send it.
type Target struct {
	Provider provider.Config
	Bypass   map[string]string
	Header   http.Header
	// Proxy is the account's effective proxy URL; empty means direct.
	Proxy string
}

// apply merges the bypass state into s.
func (t Target) apply(s *session.Session) {
	s.Merge(t.Bypass)
	s.Proxy = t.Proxy
	for k, vs := range t.Header {
		s.Header[k] = append([]string(nil), vs...)
	}
}

type Authenticator interface {
	Method() account.Method
	Resolve(ctx context.Context, d account.Descriptor, t Target) (*session.Session, error)
}

type ErrorKind string

const (
	KindTimeout            ErrorKind = "timeout"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindUnexpectedPage     ErrorKind = "unexpected_page"
)

var (
	ErrTimeout            = errors.New("auth: timeout")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnexpectedPage     = errors.New("auth: unexpected page")
)

type Error struct {
	Method  account.Method
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s login: %s: %s", e.Method, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrInvalidCredentials:
		return e.Kind == KindInvalidCredentials
	case ErrUnexpectedPage:
		return e.Kind == KindUnexpectedPage
	}
	return false
}

// classify maps a login failure onto the auth error taxonomy.
func classify(method account.Method, err error, message string) *Error {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr
	}
	kind := KindUnexpectedPage
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		kind = KindTimeout
	case errors.Is(err, ErrInvalidCredentials):
		kind = KindInvalidCredentials
	}
	return &Error{Method: method, Kind: kind, Message: message, Err: err}
}

// ExhaustedError is returned when every configured method failed.
type ExhaustedError struct {
	Attempts []error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return "all authentication methods failed: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() []error { return e.Attempts }
