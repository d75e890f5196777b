package auth

import (
	"context"

	"newapi-checkin/internal/account"
	"newapi-checkin/internal/session"
)

// Cookie wraps stored cookies and the api user into a session without any
// network call.
type Cookie struct{}

func NewCookie() *Cookie { return &Cookie{} }

func (*Cookie) Method() account.Method { return account.MethodCookies }

func (*Cookie) Resolve(_ context.Context, d account.Descriptor, t Target) (*session.Session, error) {
	if len(d.Cookies) == 0 || d.APIUser == "" {
		return nil, &Error{Method: account.MethodCookies, Kind: KindInvalidCredentials, Message: "cookies or api_user missing"}
	}
	s := session.New(string(account.MethodCookies), d.Cookies, d.APIUser)
	t.apply(s)
	return s, nil
}
