package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	BypassWAFCookies  = "waf_cookies"
	BypassCFClearance = "cf_clearance"

	defaultLoginPath     = "/login"
	defaultStatusPath    = "/api/status"
	defaultAuthStatePath = "/api/oauth/state"
	defaultSignInPath    = "/api/user/sign_in"
	defaultUserInfoPath  = "/api/user/self"
	defaultOAuthPath     = "/api/oauth"
	defaultAPIUserKey    = "new-api-user"
)

// Config describes one newapi-compatible site.
// An empty SignInPath means the user info request performs the check-in.
type Config struct {
	Name          string `json:"-" validate:"required"`
	Origin        string `json:"origin" validate:"required,http_url"`
	LoginPath     string `json:"login_path"`
	StatusPath    string `json:"status_path"`
	AuthStatePath string `json:"auth_state_path"`
	SignInPath    string `json:"sign_in_path"`
	UserInfoPath  string `json:"user_info_path"`
	OAuthPath     string `json:"oauth_path"`
	APIUserKey    string `json:"api_user_key"`
	BypassMethod  string `json:"bypass_method" validate:"omitempty,oneof=waf_cookies cf_clearance"`

	// Client ids are normally discovered from the status endpoint.
	LinuxDoClientID string `json:"linuxdo_client_id"`
	GitHubClientID  string `json:"github_client_id"`
}

func Builtins() []Config {
	return []Config{
		{
			Name:          "anyrouter",
			Origin:        "https://anyrouter.top",
			LoginPath:     defaultLoginPath,
			StatusPath:    defaultStatusPath,
			AuthStatePath: defaultAuthStatePath,
			SignInPath:    defaultSignInPath,
			UserInfoPath:  defaultUserInfoPath,
			OAuthPath:     defaultOAuthPath,
			APIUserKey:    defaultAPIUserKey,
			BypassMethod:  BypassWAFCookies,
		},
		{
			Name:          "agentrouter",
			Origin:        "https://agentrouter.org",
			LoginPath:     defaultLoginPath,
			StatusPath:    defaultStatusPath,
			AuthStatePath: defaultAuthStatePath,
			UserInfoPath:  defaultUserInfoPath,
			OAuthPath:     defaultOAuthPath,
			APIUserKey:    defaultAPIUserKey,
		},
	}
}

func (c Config) NeedsWAFCookies() bool  { return c.BypassMethod == BypassWAFCookies }
func (c Config) NeedsCFClearance() bool { return c.BypassMethod == BypassCFClearance }

func (c Config) LoginURL() string     { return c.url(c.LoginPath) }
func (c Config) StatusURL() string    { return c.url(c.StatusPath) }
func (c Config) AuthStateURL() string { return c.url(c.AuthStatePath) }
func (c Config) UserInfoURL() string  { return c.url(c.UserInfoPath) }

func (c Config) SignInURL() string {
	if c.SignInPath == "" {
		return ""
	}
	return c.url(c.SignInPath)
}

// OAuthCallbackURL is the endpoint exchanging an authorization code for a
// site session, e.g. /api/oauth/github.
func (c Config) OAuthCallbackURL(idp string) string {
	return c.url(strings.TrimRight(c.OAuthPath, "/") + "/" + idp)
}

// Host returns the origin host, used to filter browser cookies.
func (c Config) Host() string {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (c Config) url(path string) string {
	origin := strings.TrimRight(c.Origin, "/")
	if path == "" {
		return origin
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return origin + path
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("provider %q: invalid %s (%s)", c.Name, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("provider %q: %w", c.Name, err)
	}
	return nil
}

// ParseListing parses the PROVIDERS payload. Bad entries are reported and
// skipped; valid entries are returned sorted by name.
func ParseListing(raw []byte) ([]Config, []error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, []error{fmt.Errorf("PROVIDERS must be a JSON object: %w", err)}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []Config
		errs []error
	)
	for _, name := range names {
		cfg, err := parseEntry(strings.TrimSpace(name), entries[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, cfg)
	}
	return out, errs
}

func parseEntry(name string, raw json.RawMessage) (Config, error) {
	cfg := Config{
		Name:          name,
		LoginPath:     defaultLoginPath,
		StatusPath:    defaultStatusPath,
		AuthStatePath: defaultAuthStatePath,
		SignInPath:    defaultSignInPath,
		UserInfoPath:  defaultUserInfoPath,
		OAuthPath:     defaultOAuthPath,
		APIUserKey:    defaultAPIUserKey,
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("provider %q: %w", name, err)
	}
	cfg.Name = name

	// An explicit null sign_in_path disables the sign-in call.
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(raw, &fields)
	if v, ok := fields["sign_in_path"]; ok && string(v) == "null" {
		cfg.SignInPath = ""
	}
	if cfg.APIUserKey == "" {
		cfg.APIUserKey = defaultAPIUserKey
	}
	cfg.Origin = strings.TrimRight(strings.TrimSpace(cfg.Origin), "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
