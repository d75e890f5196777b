// Package account parses and validates the ACCOUNTS payload into immutable
// credential descriptors.
package account

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"newapi-checkin/internal/pkg/httpclient"
)

type Method string

const (
	MethodCookies Method = "cookies"
	MethodLinuxDo Method = "linux.do"
	MethodGitHub  Method = "github"
)

// Priority is the fixed order in which authentication methods are attempted.
var Priority = []Method{MethodCookies, MethodLinuxDo, MethodGitHub}

var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigError reports the offending record index (0-based) and field.
// Index is -1 for errors about the payload as a whole.
type ConfigError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: account[%d]: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: account[%d].%s: %s", e.Index, e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfiguration }

type Credentials struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

type Descriptor struct {
	// Index is the position in the configured batch (0-based).
	Index    int
	Name     string
	Provider string

	Cookies map[string]string
	APIUser string

	LinuxDo *Credentials
	GitHub  *Credentials

	// Proxy overrides the global proxy for this account. It may carry
	// credentials and is never logged.
	Proxy string
}

// Methods returns the configured methods in priority order.
func (d Descriptor) Methods() []Method {
	out := make([]Method, 0, len(Priority))
	for _, m := range Priority {
		if d.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

func (d Descriptor) Has(m Method) bool {
	switch m {
	case MethodCookies:
		return len(d.Cookies) > 0
	case MethodLinuxDo:
		return d.LinuxDo != nil
	case MethodGitHub:
		return d.GitHub != nil
	default:
		return false
	}
}

// Credentials returns the identity provider login for m, or nil.
func (d Descriptor) Credentials(m Method) *Credentials {
	switch m {
	case MethodLinuxDo:
		return d.LinuxDo
	case MethodGitHub:
		return d.GitHub
	default:
		return nil
	}
}

// String never includes secrets.
func (d Descriptor) String() string {
	methods := make([]string, 0, 3)
	for _, m := range d.Methods() {
		methods = append(methods, string(m))
	}
	return fmt.Sprintf("%s (provider=%s methods=%s)", d.Name, d.Provider, strings.Join(methods, ","))
}

type ParseOptions struct {
	DefaultProvider string
	// Known reports whether a provider identifier is registered.
	Known func(name string) bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse validates the whole batch. Any bad record fails the batch.
func Parse(raw []byte, opts ParseOptions) ([]Descriptor, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &ConfigError{Index: -1, Reason: "ACCOUNTS is empty"}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &ConfigError{Index: -1, Reason: "ACCOUNTS must be a JSON array: " + err.Error()}
	}
	if len(records) == 0 {
		return nil, &ConfigError{Index: -1, Reason: "ACCOUNTS contains no accounts"}
	}

	out := make([]Descriptor, 0, len(records))
	for i, rec := range records {
		d, err := parseRecord(i, rec, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseRecord(i int, rec json.RawMessage, opts ParseOptions) (Descriptor, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil || fields == nil {
		return Descriptor{}, &ConfigError{Index: i, Reason: "account must be a JSON object"}
	}

	d := Descriptor{Index: i}

	name, present, err := stringField(fields, "name")
	if err != nil {
		return Descriptor{}, &ConfigError{Index: i, Field: "name", Reason: err.Error()}
	}
	switch {
	case !present:
		d.Name = fmt.Sprintf("Account %d", i+1)
	case name == "":
		return Descriptor{}, &ConfigError{Index: i, Field: "name", Reason: "must not be empty"}
	default:
		d.Name = name
	}

	provider, present, err := stringField(fields, "provider")
	if err != nil {
		return Descriptor{}, &ConfigError{Index: i, Field: "provider", Reason: err.Error()}
	}
	if !present || provider == "" {
		provider = opts.DefaultProvider
	}
	if provider == "" {
		return Descriptor{}, &ConfigError{Index: i, Field: "provider", Reason: "missing and no default provider configured"}
	}
	if opts.Known != nil && !opts.Known(provider) {
		return Descriptor{}, &ConfigError{Index: i, Field: "provider", Reason: fmt.Sprintf("unknown provider %q", provider)}
	}
	d.Provider = provider

	if rawCookies, ok := fields["cookies"]; ok {
		cookies, err := parseCookies(rawCookies)
		if err != nil {
			return Descriptor{}, &ConfigError{Index: i, Field: "cookies", Reason: err.Error()}
		}
		apiUser, err := apiUserField(fields)
		if err != nil {
			return Descriptor{}, &ConfigError{Index: i, Field: "api_user", Reason: err.Error()}
		}
		if apiUser == "" {
			return Descriptor{}, &ConfigError{Index: i, Field: "api_user", Reason: "required when cookies are set"}
		}
		d.Cookies = cookies
		d.APIUser = apiUser
	}

	for _, m := range []Method{MethodLinuxDo, MethodGitHub} {
		rawCreds, ok := fields[string(m)]
		if !ok {
			continue
		}
		creds, err := parseCredentials(rawCreds)
		if err != nil {
			return Descriptor{}, &ConfigError{Index: i, Field: string(m), Reason: err.Error()}
		}
		if m == MethodLinuxDo {
			d.LinuxDo = creds
		} else {
			d.GitHub = creds
		}
	}

	if rawProxy, ok := fields["proxy"]; ok && string(rawProxy) != "null" {
		proxy, err := parseProxy(rawProxy)
		if err != nil {
			return Descriptor{}, &ConfigError{Index: i, Field: "proxy", Reason: err.Error()}
		}
		d.Proxy = proxy
	}

	if len(d.Methods()) == 0 {
		return Descriptor{}, &ConfigError{Index: i, Reason: "no authentication method configured (cookies, linux.do or github)"}
	}
	return d, nil
}

// parseProxy accepts a proxy URL string or a {server, username, password}
// object.
func parseProxy(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return httpclient.NormalizeProxy(s)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return "", errors.New("must be a URL string or an object with server, username and password")
	}
	return httpclient.NormalizeProxy(string(raw))
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool, error) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, errors.New("must be a string")
	}
	return strings.TrimSpace(s), true, nil
}

func apiUserField(fields map[string]json.RawMessage) (string, error) {
	raw, ok := fields["api_user"]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String(), nil
		}
	}
	return "", errors.New("must be a string or integer")
}

// parseCookies accepts {"k":"v"} or the browser form "k=v; k2=v2".
func parseCookies(raw json.RawMessage) (map[string]string, error) {
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil && asMap != nil {
		out := make(map[string]string, len(asMap))
		for k, v := range asMap {
			k = strings.TrimSpace(k)
			if k == "" {
				return nil, errors.New("cookie name must not be empty")
			}
			out[k] = strings.TrimSpace(v)
		}
		if len(out) == 0 {
			return nil, errors.New("must not be empty")
		}
		return out, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil, errors.New("must be an object or a cookie string")
	}
	out := ParseCookieString(asString)
	if len(out) == 0 {
		return nil, errors.New("must not be empty")
	}
	return out, nil
}

// ParseCookieString parses "k=v; k2=v2". Segments without '=' are ignored.
func ParseCookieString(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func parseCredentials(raw json.RawMessage) (*Credentials, error) {
	var c struct {
		Username *string `json:"username"`
		Password *string `json:"password"`
	}
	if err := json.Unmarshal(raw, &c); err != nil || string(raw) == "null" {
		return nil, errors.New("must be an object with username and password")
	}
	creds := &Credentials{}
	if c.Username != nil {
		creds.Username = strings.TrimSpace(*c.Username)
	}
	if c.Password != nil {
		creds.Password = *c.Password
	}
	if err := validate.Struct(creds); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, strings.ToLower(fe.Field()))
			}
			sort.Strings(missing)
			return nil, fmt.Errorf("missing %s", strings.Join(missing, ", "))
		}
		return nil, err
	}
	return creds, nil
}

// CookiesCopy returns a copy safe to hand to a single attempt.
func (d Descriptor) CookiesCopy() map[string]string {
	return maps.Clone(d.Cookies)
}
