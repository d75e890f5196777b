package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
	appfx "newapi-checkin/internal/app/fx"
	"newapi-checkin/internal/app/run"
	"newapi-checkin/internal/envutil"
	"newapi-checkin/internal/history"
	"newapi-checkin/internal/provider"
)

type runFlags struct {
	accountsFile string
	notifyMode   string
	migrate      bool
}

func newRootCmd() *cobra.Command {
	var f runFlags

	rootCmd := &cobra.Command{
		Use:           "checkin",
		Short:         "Run the daily check-in for every configured account",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				_ = cmd.Help()
				return errUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintln(cmd.ErrOrStderr(), "ERROR:", err)
		_ = cmd.Usage()
		return errUsage
	})

	rootCmd.PersistentFlags().StringVar(&f.accountsFile, "accounts-file", envutil.String(os.Getenv, "ACCOUNTS_FILE", ""), "Read the ACCOUNTS JSON array from a file instead of the environment")
	rootCmd.Flags().StringVar(&f.notifyMode, "notify", "", "Override NOTIFY_MODE (changes, always, never)")
	rootCmd.Flags().BoolVar(&f.migrate, "migrate", envutil.Bool(os.Getenv, "HISTORY_AUTO_MIGRATE", true), "Apply history migrations before the run when a history database is configured")

	rootCmd.AddCommand(
		newValidateCmd(&f),
		newProvidersCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

// overrides applies command line flags on top of the environment config.
func (f runFlags) overrides(cfg *config.Config) (*config.Config, error) {
	out := *cfg
	if f.accountsFile != "" {
		raw, err := os.ReadFile(f.accountsFile)
		if err != nil {
			return nil, fmt.Errorf("read accounts file: %w", err)
		}
		out.Accounts = string(raw)
	}
	if mode := strings.ToLower(strings.TrimSpace(f.notifyMode)); mode != "" {
		switch config.NotifyMode(mode) {
		case config.NotifyChanges, config.NotifyAlways, config.NotifyNever:
			out.Notify.Mode = config.NotifyMode(mode)
		default:
			return nil, fmt.Errorf("invalid --notify %q", f.notifyMode)
		}
	}
	return &out, nil
}

type batchDeps struct {
	fx.In

	Cfg      *config.Config
	Registry *provider.Registry
	History  *history.Store
	Service  *run.Service
	Logger   *zap.SugaredLogger
}

// runBatch starts the infrastructure, then runs the batch on the caller's
// goroutine with ctx, so a signal ends the run but never the report and the
// bookkeeping that follow it.
func runBatch(ctx context.Context, out io.Writer, f runFlags) error {
	var deps batchDeps

	app := fx.New(
		appfx.Module,
		fx.Decorate(f.overrides),
		fx.Populate(&deps),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			fmt.Fprintln(os.Stderr, "WARN: shutdown:", err)
		}
	}()

	accounts, err := run.LoadAccounts(deps.Cfg, deps.Registry)
	if err != nil {
		return err
	}
	deps.Logger.Infow("checkin_accounts_loaded", "count", len(accounts), "providers", deps.Registry.Names())

	if f.migrate && deps.History.Enabled() {
		if err := deps.History.Migrate(ctx); err != nil {
			deps.Logger.Warnw("history_migrate_failed", "err", err)
		}
	}

	summary := deps.Service.Run(ctx, accounts, out).Summary
	if code := summary.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
