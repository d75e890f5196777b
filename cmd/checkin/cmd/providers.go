package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	appfx "newapi-checkin/internal/app/fx"
	checkinfx "newapi-checkin/internal/checkin/fx"
	"newapi-checkin/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the registered providers (built-ins plus PROVIDERS)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var registry *provider.Registry
			app := fx.New(
				appfx.CoreAppOptions,
				fx.Provide(checkinfx.NewRegistry),
				fx.Populate(&registry),
			)
			if err := app.Err(); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tORIGIN\tSIGN-IN\tBYPASS")
			for _, name := range registry.Names() {
				a, _ := registry.Get(name)
				c := a.Config()
				signIn := c.SignInPath
				if signIn == "" {
					signIn = "(via user info)"
				}
				bypass := c.BypassMethod
				if bypass == "" {
					bypass = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, c.Origin, signIn, bypass)
			}
			return tw.Flush()
		},
	}
}
