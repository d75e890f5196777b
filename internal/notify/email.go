package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

type Email struct {
	User   string
	Pass   string
	To     string
	Sender string
	// Server defaults to smtp.<domain of User>.
	Server string
	Port   int
	Now    func() time.Time
}

func (e Email) Name() string     { return "email" }
func (e Email) Configured() bool { return e.User != "" && e.Pass != "" && e.To != "" }

// deliver is replaced in tests.
var deliver = smtpDeliver

func (e Email) Send(ctx context.Context, msg Message) error {
	server := e.server()
	if server == "" {
		return fmt.Errorf("cannot derive smtp server from %q", e.User)
	}
	port := e.Port
	if port == 0 {
		port = 465
	}

	to := recipients(e.To)
	raw, err := e.compose(msg, to)
	if err != nil {
		return err
	}

	auth := smtp.PlainAuth("", e.User, e.Pass, server)
	return deliver(ctx, server, port, auth, e.User, to, raw)
}

func (e Email) server() string {
	if e.Server != "" {
		return e.Server
	}
	if _, domain, ok := strings.Cut(e.User, "@"); ok && domain != "" {
		return "smtp." + domain
	}
	return ""
}

func (e Email) compose(msg Message, to []string) ([]byte, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	sender := e.Sender
	if sender == "" {
		sender = "newapi-checkin"
	}

	var h mail.Header
	h.SetDate(now())
	h.SetSubject(msg.Title)
	h.SetAddressList("From", []*mail.Address{{Name: sender, Address: e.User}})
	list := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		list = append(list, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", list)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("compose mail: %w", err)
	}
	if _, err := io.WriteString(w, msg.Text); err != nil {
		return nil, fmt.Errorf("compose mail: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compose mail: %w", err)
	}
	return buf.Bytes(), nil
}

func recipients(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// smtpDeliver uses implicit TLS on port 465 and STARTTLS elsewhere.
func smtpDeliver(ctx context.Context, server string, port int, auth smtp.Auth, from string, to []string, raw []byte) error {
	addr := net.JoinHostPort(server, strconv.Itoa(port))

	var (
		conn net.Conn
		err  error
	)
	if port == 465 {
		d := tls.Dialer{Config: &tls.Config{ServerName: server, MinVersion: tls.VersionTLS12}}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, server)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: server, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
