// Package httpclient builds outbound HTTP clients and normalizes proxy
// settings shared with the browser.
package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// New returns a client with its own transport. An empty or unparseable proxy
// leaves the environment's HTTP(S)_PROXY handling in place.
func New(timeout time.Duration, jar http.CookieJar, proxy string) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if u, err := ParseProxy(proxy); err == nil && u != nil {
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Timeout: timeout, Jar: jar, Transport: tr}
}

type proxyObject struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// NormalizeProxy accepts a proxy URL or a {"server","username","password"}
// object and returns it as a URL string. Empty input stays empty.
func NormalizeProxy(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if strings.HasPrefix(raw, "{") {
		var obj proxyObject
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return "", fmt.Errorf("proxy object: %w", err)
		}
		if obj.Server == "" {
			return "", errors.New("proxy object has no server")
		}
		u, err := ParseProxy(obj.Server)
		if err != nil {
			return "", err
		}
		if obj.Username != "" {
			u.User = url.UserPassword(obj.Username, obj.Password)
		}
		return u.String(), nil
	}
	u, err := ParseProxy(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ParseProxy parses a proxy URL. A bare host:port means http.
func ParseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.New("proxy is not a valid URL")
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("proxy scheme %q is not supported", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("proxy has no host")
	}
	return u, nil
}

// Redact hides proxy credentials for logs and reports.
func Redact(proxy string) string {
	u, err := url.Parse(proxy)
	if err != nil || u.User == nil {
		return proxy
	}
	return u.Redacted()
}
