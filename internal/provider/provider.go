// Package provider holds the check-in contract for newapi-compatible sites
// and the open registry that maps provider identifiers to adapters.
package provider

import (
	"context"
	"errors"
	"fmt"

	"newapi-checkin/internal/session"
)

// QuotaUnit converts raw newapi quota to dollars.
const QuotaUnit = 500000.0

type Adapter interface {
	Name() string
	Config() Config
	CheckIn(ctx context.Context, s *session.Session) (Outcome, error)
}

type Balance struct {
	Quota      float64 `json:"quota"`
	UsedQuota  float64 `json:"used_quota"`
	BonusQuota float64 `json:"bonus_quota"`
}

func (b Balance) String() string {
	return fmt.Sprintf("Current balance: $%.2f, Used: $%.2f, Bonus: $%.2f", b.Quota, b.UsedQuota, b.BonusQuota)
}

type Outcome struct {
	Success          bool
	AlreadyCheckedIn bool
	// QuotaAwarded is nil when the provider did not report an award.
	QuotaAwarded *float64
	Message      string
	Balance      *Balance
}

type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnexpected   ErrorKind = "unexpected"
)

var (
	ErrUnauthorized = errors.New("provider: unauthorized")
	ErrRateLimited  = errors.New("provider: rate limited")
	ErrUnexpected   = errors.New("provider: unexpected response")
)

type Error struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrUnexpected:
		return e.Kind == KindUnexpected
	}
	return false
}
