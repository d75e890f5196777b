// Package chromedevtools locates a remote Chrome's DevTools endpoint.
package chromedevtools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const DefaultHost = "127.0.0.1"
const DefaultPort = "9222"

var newHTTPClient = func(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

var inDockerFunc = func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

var lookupIPAddrs = net.DefaultResolver.LookupIPAddr

func VersionURL(host, port string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}
	port = strings.TrimSpace(port)
	if port == "" {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%s/json/version", host, port)
}

// VersionURLResolved is VersionURL for a process that may run inside a
// container. There an empty host means the Docker host, and host names are
// resolved to an IPv4 literal because Chrome rejects DevTools requests whose
// Host header is not an IP or localhost.
func VersionURLResolved(ctx context.Context, host, port string) (string, string) {
	host = strings.TrimSpace(host)
	if !inDockerFunc() {
		if host == "" {
			host = DefaultHost
		}
		return VersionURL(host, port), host
	}

	if host == "" {
		host = "host.docker.internal"
	}
	if net.ParseIP(host) == nil {
		if addrs, err := lookupIPAddrs(ctx, host); err == nil {
			for _, a := range addrs {
				if v4 := a.IP.To4(); v4 != nil {
					host = v4.String()
					break
				}
			}
		}
	}
	return VersionURL(host, port), host
}

func CheckReachable(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("missing url")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := newHTTPClient(timeout).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*32))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty response from %s", url)
	}

	return body, nil
}

// WebSocketURL turns a remote browser address into the browser's DevTools
// websocket URL. ws:// and wss:// addresses are returned as is; an http
// address is queried at /json/version.
func WebSocketURL(ctx context.Context, remote string, timeout time.Duration) (string, error) {
	remote = strings.TrimSpace(remote)
	u, err := url.Parse(remote)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid remote browser address %q", remote)
	}

	switch u.Scheme {
	case "ws", "wss":
		return remote, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported remote browser scheme %q", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/json/version"
	}
	body, err := CheckReachable(ctx, u.String(), timeout)
	if err != nil {
		return "", err
	}

	ws := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if ws == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in %s", u.String())
	}
	return ws, nil
}
