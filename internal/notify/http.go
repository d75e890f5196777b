package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"newapi-checkin/internal/pkg/httpclient"
)

var newHTTPClient = httpclient.New

const httpTimeout = 15 * time.Second

// post sends a body through proxy, when set, and returns the response,
// failing on non-2xx statuses.
func post(ctx context.Context, proxy, target, contentType string, body []byte) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := newHTTPClient(httpTimeout, nil, proxy).Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return gjson.Result{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return gjson.ParseBytes(raw), nil
}

func postJSON(ctx context.Context, proxy, target string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}
	return post(ctx, proxy, target, "application/json", body)
}

func postForm(ctx context.Context, proxy, target string, form url.Values) (gjson.Result, error) {
	return post(ctx, proxy, target, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

// expectCode fails unless the JSON field path equals want.
func expectCode(res gjson.Result, path string, want int64) error {
	got := res.Get(path)
	if !got.Exists() || got.Int() != want {
		msg := res.Get("msg").String()
		if msg == "" {
			msg = res.Get("errmsg").String()
		}
		if msg == "" {
			msg = res.Get("message").String()
		}
		return fmt.Errorf("%s=%s: %s", path, got.String(), msg)
	}
	return nil
}

// Webhook posts {title, content, summary} to an arbitrary URL.
type Webhook struct {
	URL   string
	Proxy string
}

func (w Webhook) Name() string     { return "webhook" }
func (w Webhook) Configured() bool { return w.URL != "" }

func (w Webhook) Send(ctx context.Context, msg Message) error {
	_, err := postJSON(ctx, w.Proxy, w.URL, map[string]any{
		"title":   msg.Title,
		"content": msg.Text,
		"summary": msg.Summary,
	})
	return err
}

type PushPlus struct {
	Token    string
	Endpoint string
	Proxy    string
}

func (p PushPlus) Name() string     { return "pushplus" }
func (p PushPlus) Configured() bool { return p.Token != "" }

func (p PushPlus) Send(ctx context.Context, msg Message) error {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = "https://www.pushplus.plus/send"
	}
	res, err := postJSON(ctx, p.Proxy, endpoint, map[string]string{
		"token":    p.Token,
		"title":    msg.Title,
		"content":  msg.Text,
		"template": "txt",
	})
	if err != nil {
		return err
	}
	return expectCode(res, "code", 200)
}

// ServerChan is the sct.ftqq.com push service.
type ServerChan struct {
	Key      string
	Endpoint string
	Proxy    string
}

func (s ServerChan) Name() string     { return "serverchan" }
func (s ServerChan) Configured() bool { return s.Key != "" }

func (s ServerChan) Send(ctx context.Context, msg Message) error {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = "https://sctapi.ftqq.com"
	}
	res, err := postForm(ctx, s.Proxy, strings.TrimRight(endpoint, "/")+"/"+url.PathEscape(s.Key)+".send", url.Values{
		"title": {msg.Title},
		"desp":  {msg.Text},
	})
	if err != nil {
		return err
	}
	return expectCode(res, "code", 0)
}

type DingTalk struct {
	Webhook string
	Proxy   string
}

func (d DingTalk) Name() string     { return "dingtalk" }
func (d DingTalk) Configured() bool { return d.Webhook != "" }

func (d DingTalk) Send(ctx context.Context, msg Message) error {
	res, err := postJSON(ctx, d.Proxy, d.Webhook, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": msg.Title + "\n" + msg.Text},
	})
	if err != nil {
		return err
	}
	return expectCode(res, "errcode", 0)
}

type Feishu struct {
	Webhook string
	Proxy   string
}

func (f Feishu) Name() string     { return "feishu" }
func (f Feishu) Configured() bool { return f.Webhook != "" }

func (f Feishu) Send(ctx context.Context, msg Message) error {
	res, err := postJSON(ctx, f.Proxy, f.Webhook, map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": msg.Title + "\n" + msg.Text},
	})
	if err != nil {
		return err
	}
	return expectCode(res, "code", 0)
}

// WeCom is a WeChat Work group robot.
type WeCom struct {
	Webhook string
	Proxy   string
}

func (w WeCom) Name() string     { return "wecom" }
func (w WeCom) Configured() bool { return w.Webhook != "" }

func (w WeCom) Send(ctx context.Context, msg Message) error {
	res, err := postJSON(ctx, w.Proxy, w.Webhook, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": msg.Title + "\n" + msg.Text},
	})
	if err != nil {
		return err
	}
	return expectCode(res, "errcode", 0)
}

type Telegram struct {
	BotToken string
	ChatID   string
	Endpoint string
	Proxy    string
}

func (t Telegram) Name() string     { return "telegram" }
func (t Telegram) Configured() bool { return t.BotToken != "" && t.ChatID != "" }

func (t Telegram) Send(ctx context.Context, msg Message) error {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = "https://api.telegram.org"
	}
	res, err := postJSON(ctx, t.Proxy, strings.TrimRight(endpoint, "/")+"/bot"+t.BotToken+"/sendMessage", map[string]string{
		"chat_id": t.ChatID,
		"text":    msg.Title + "\n\n" + msg.Text,
	})
	if err != nil {
		return err
	}
	if !res.Get("ok").Bool() {
		return fmt.Errorf("telegram: %s", res.Get("description").String())
	}
	return nil
}
