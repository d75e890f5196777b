package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"newapi-checkin/config"
	appfx "newapi-checkin/internal/app/fx"
	"newapi-checkin/internal/app/run"
	checkinfx "newapi-checkin/internal/checkin/fx"
	"newapi-checkin/internal/provider"
)

// newValidateCmd parses ACCOUNTS and PROVIDERS without contacting any site.
func newValidateCmd(f *runFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the ACCOUNTS and PROVIDERS configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg      *config.Config
				registry *provider.Registry
			)
			app := fx.New(
				appfx.CoreAppOptions,
				fx.Decorate(f.overrides),
				fx.Provide(checkinfx.NewRegistry),
				fx.Populate(&cfg, &registry),
			)
			if err := app.Err(); err != nil {
				return err
			}

			accounts, err := run.LoadAccounts(cfg, registry)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range accounts {
				fmt.Fprintln(out, d.String())
			}
			fmt.Fprintf(out, "OK: %d account(s) valid\n", len(accounts))
			return nil
		},
	}
}
