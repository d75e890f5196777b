package provider

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var alreadyCheckedInMarkers = []string{"已经签到", "已签到", "already checked in", "already signed in"}

const checkedInMarker = "签到成功"

// interpretCheckIn maps a sign-in response to an outcome. Both 200 and 400
// responses carry a JSON verdict on newapi sites.
func interpretCheckIn(provider string, status int, body []byte) (Outcome, error) {
	if err := statusError(provider, status, body); err != nil {
		return Outcome{}, err
	}
	if status != http.StatusOK && status != http.StatusBadRequest {
		return Outcome{}, &Error{Provider: provider, Kind: KindUnexpected, Status: status, Message: fmt.Sprintf("HTTP %d", status)}
	}

	res, ok := parseObject(body)
	if !ok {
		if bytes.Contains(bytes.ToLower(body), []byte("success")) {
			return Outcome{Success: true, Message: "Check-in successful"}, nil
		}
		return Outcome{}, &Error{Provider: provider, Kind: KindUnexpected, Status: status, Message: "invalid response format"}
	}

	message := responseMessage(res)
	already := containsAny(message, alreadyCheckedInMarkers)

	code := res.Get("code")
	if res.Get("ret").Int() == 1 ||
		(code.Type == gjson.Number && code.Int() == 0) ||
		res.Get("success").Bool() ||
		already ||
		strings.Contains(message, checkedInMarker) {
		out := Outcome{Success: true, AlreadyCheckedIn: already, Message: message}
		if out.Message == "" {
			out.Message = "Check-in successful"
		}
		if awarded := res.Get("data.quota_awarded"); awarded.Exists() && awarded.Float() > 0 {
			q := toDollars(awarded.Float())
			out.QuotaAwarded = &q
		}
		return out, nil
	}

	if message == "" {
		message = "Unknown error"
	}
	return Outcome{}, &Error{Provider: provider, Kind: KindUnexpected, Status: status, Message: message}
}

// interpretUserInfo reads the balance from /api/user/self.
func interpretUserInfo(provider string, status int, body []byte) (Balance, error) {
	if err := statusError(provider, status, body); err != nil {
		return Balance{}, err
	}
	if status != http.StatusOK {
		return Balance{}, &Error{Provider: provider, Kind: KindUnexpected, Status: status, Message: fmt.Sprintf("HTTP %d", status)}
	}

	res, ok := parseObject(body)
	if !ok {
		return Balance{}, &Error{Provider: provider, Kind: KindUnexpected, Status: status, Message: "invalid user info response"}
	}
	if !res.Get("success").Bool() {
		msg := responseMessage(res)
		if msg == "" {
			msg = "user info request failed"
		}
		return Balance{}, &Error{Provider: provider, Kind: KindUnexpected, Status: status, Message: msg}
	}

	data := res.Get("data")
	return Balance{
		Quota:      toDollars(data.Get("quota").Float()),
		UsedQuota:  toDollars(data.Get("used_quota").Float()),
		BonusQuota: toDollars(data.Get("bonus_quota").Float()),
	}, nil
}

func statusError(provider string, status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg := "session rejected"
		if res, ok := parseObject(body); ok {
			if m := responseMessage(res); m != "" {
				msg = m
			}
		}
		return &Error{Provider: provider, Kind: KindUnauthorized, Status: status, Message: msg}
	case http.StatusTooManyRequests:
		return &Error{Provider: provider, Kind: KindRateLimited, Status: status, Message: "too many requests"}
	}
	return nil
}

func parseObject(body []byte) (gjson.Result, bool) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, false
	}
	res := gjson.ParseBytes(body)
	return res, res.IsObject()
}

func responseMessage(res gjson.Result) string {
	if m := res.Get("message"); m.Exists() && m.String() != "" {
		return m.String()
	}
	return res.Get("msg").String()
}

func containsAny(s string, markers []string) bool {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func toDollars(raw float64) float64 {
	return math.Round(raw/QuotaUnit*100) / 100
}
