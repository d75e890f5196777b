package fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
	"newapi-checkin/internal/auth"
	"newapi-checkin/internal/checkin"
	"newapi-checkin/internal/pkg/browser"
	"newapi-checkin/internal/provider"
)

var Module = fx.Module(
	"checkin",
	fx.Provide(
		NewRegistry,
		NewBrowser,
		NewChain,
		NewOrchestrator,
	),
	AsAuthenticator(auth.NewCookie),
	AsAuthenticator(NewLinuxDoAuthenticator),
	AsAuthenticator(NewGitHubAuthenticator),
)

// AsAuthenticator adds a login method to the chain.
func AsAuthenticator(f any) fx.Option {
	return fx.Provide(
		fx.Annotate(
			f,
			fx.As(new(auth.Authenticator)),
			fx.ResultTags(`group:"authenticators"`),
		),
	)
}

// NewRegistry registers the built-in providers, then PROVIDERS.
func NewRegistry(cfg *config.Config, log *zap.SugaredLogger) *provider.Registry {
	r := provider.NewRegistry(log)
	r.Load([]byte(cfg.Providers), provider.NewAPIFactory(provider.NewAPIOptions{
		HTTPTimeout: cfg.Run.HTTPTimeout,
		UserAgent:   cfg.Browser.UserAgent,
		MinInterval: cfg.Run.ProviderInterval,
		Logger:      log,
	}))
	return r
}

func NewBrowser(cfg *config.Config, log *zap.SugaredLogger) *browser.Driver {
	return browser.New(browser.Options{
		Headless:  cfg.Browser.Headless,
		NoSandbox: cfg.Browser.NoSandbox,
		RemoteURL: cfg.Browser.RemoteURL,
		ExecPath:  cfg.Browser.ExecPath,
		UserAgent: cfg.Browser.UserAgent,
		Logger:    log.With("component", "browser"),
	})
}

func oauthOptions(cfg *config.Config, log *zap.SugaredLogger) auth.OAuthOptions {
	return auth.OAuthOptions{
		HTTPTimeout:  cfg.Run.HTTPTimeout,
		LoginTimeout: cfg.Run.LoginTimeout,
		UserAgent:    cfg.Browser.UserAgent,
		Logger:       log,
	}
}

func NewLinuxDoAuthenticator(d *browser.Driver, cfg *config.Config, log *zap.SugaredLogger) *auth.OAuth {
	return auth.NewOAuth(auth.LinuxDo(), d, oauthOptions(cfg, log))
}

func NewGitHubAuthenticator(d *browser.Driver, cfg *config.Config, log *zap.SugaredLogger) *auth.OAuth {
	return auth.NewOAuth(auth.GitHub(), d, oauthOptions(cfg, log))
}

type NewChainParams struct {
	fx.In

	Authenticators []auth.Authenticator `group:"authenticators"`
	Driver         *browser.Driver
	Cfg            *config.Config
	Logger         *zap.SugaredLogger
}

func NewChain(p NewChainParams) *auth.Chain {
	return auth.NewChain(auth.ChainOptions{
		Collector:  p.Driver,
		Clearance:  p.Driver,
		WAFTimeout: p.Cfg.Run.LoginTimeout,
		Proxy:      p.Cfg.Proxy,
		Logger:     p.Logger,
	}, p.Authenticators...)
}

func NewOrchestrator(chain *auth.Chain, registry *provider.Registry, cfg *config.Config, log *zap.SugaredLogger) *checkin.Orchestrator {
	return checkin.New(chain, registry, checkin.Options{
		Concurrency:   cfg.Run.Concurrency,
		RunTimeout:    cfg.Run.Timeout,
		RetryAttempts: cfg.Run.RetryAttempts,
		RetryBackoff:  cfg.Run.RetryBackoff,
		Logger:        log,
	})
}
