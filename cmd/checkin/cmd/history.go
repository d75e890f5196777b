package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	appfx "newapi-checkin/internal/app/fx"
	"newapi-checkin/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		accountName string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent check-in results from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				_ = cmd.Usage()
				return errUsage
			}

			var store *history.Store
			app := fx.New(
				appfx.CoreAppOptions,
				appfx.StorageOptions,
				fx.Populate(&store),
			)
			if err := app.Err(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				_ = app.Stop(stopCtx)
			}()

			if !store.Enabled() {
				return errors.New("history disabled: set TURSO_DATABASE_URL, SQLITE_PATH or DB_HOST/DB_NAME")
			}
			rows, err := store.Recent(ctx, accountName, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACCOUNT\tPROVIDER\tMETHOD\tSTATUS\tKIND\tMESSAGE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					time.UnixMilli(r.CheckedAtMS).Local().Format(time.DateTime),
					r.Account, r.Provider, dash(r.Method), r.Status, dash(r.Kind), r.Message,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&accountName, "account", "", "Only show results of this account")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
