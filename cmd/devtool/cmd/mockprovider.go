package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"newapi-checkin/config"
	appfx "newapi-checkin/internal/app/fx"
	healthfx "newapi-checkin/internal/app/health/fx"
	"newapi-checkin/internal/mockprovider"
	"newapi-checkin/internal/router"
	routerfx "newapi-checkin/internal/router/fx"
	serverfx "newapi-checkin/internal/server/fx"
)

type mockFlags struct {
	port            int
	accounts        []string
	rateLimited     []int64
	oauthCodes      []string
	githubClientID  string
	linuxDoClientID string
}

// options turns "<api_user>:<session>[:<quota>]" accounts and
// "<code>:<api_user>" OAuth codes into server options.
func (f mockFlags) options() (mockprovider.Options, error) {
	opts := mockprovider.Options{
		RateLimited:     f.rateLimited,
		OAuthCodes:      map[string]int64{},
		GitHubClientID:  f.githubClientID,
		LinuxDoClientID: f.linuxDoClientID,
	}
	for _, raw := range f.accounts {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[1] == "" {
			return opts, fmt.Errorf("invalid --account %q (want api_user:session[:quota])", raw)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid --account %q: %w", raw, err)
		}
		a := mockprovider.Account{APIUser: id, Session: parts[1]}
		if len(parts) == 3 {
			if a.Quota, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
				return opts, fmt.Errorf("invalid --account %q: %w", raw, err)
			}
		}
		opts.Accounts = append(opts.Accounts, a)
	}
	for _, raw := range f.oauthCodes {
		code, user, ok := strings.Cut(raw, ":")
		id, err := strconv.ParseInt(user, 10, 64)
		if !ok || code == "" || err != nil {
			return opts, fmt.Errorf("invalid --oauth-code %q (want code:api_user)", raw)
		}
		opts.OAuthCodes[code] = id
	}
	return opts, nil
}

func newMockProviderCmd() *cobra.Command {
	var f mockFlags

	cmd := &cobra.Command{
		Use:   "mockprovider",
		Short: "Serve a newapi-compatible site for local check-in runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}

			app := fx.New(
				appfx.CoreAppOptions,
				fx.Decorate(func(cfg *config.Config) *config.Config {
					if f.port <= 0 {
						return cfg
					}
					out := *cfg
					out.AppPort = f.port
					return &out
				}),
				fx.Supply(opts),
				fx.Provide(router.AsRoutes(mockprovider.New)),
				healthfx.Module,
				routerfx.CoreRouterOptions,
				serverfx.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().IntVar(&f.port, "port", 0, "Listen port (default APP_PORT)")
	cmd.Flags().StringArrayVar(&f.accounts, "account", []string{"1:session-1"}, "Account as api_user:session[:quota]; repeatable")
	cmd.Flags().Int64SliceVar(&f.rateLimited, "rate-limited", nil, "API users that always get HTTP 429")
	cmd.Flags().StringArrayVar(&f.oauthCodes, "oauth-code", nil, "OAuth code accepted by the callback, as code:api_user; repeatable")
	cmd.Flags().StringVar(&f.githubClientID, "github-client-id", "", "Advertise GitHub OAuth with this client id")
	cmd.Flags().StringVar(&f.linuxDoClientID, "linuxdo-client-id", "", "Advertise linux.do OAuth with this client id")
	return cmd
}
