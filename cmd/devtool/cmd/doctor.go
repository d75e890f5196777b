package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"newapi-checkin/internal/envutil"
	"newapi-checkin/internal/pkg/browser"
	"newapi-checkin/internal/pkg/chromedevtools"
)

func newDoctorCmd() *cobra.Command {
	var (
		host    string
		port    string
		page    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check DevTools is reachable, optionally loading a page through it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			url, effectiveHost := chromedevtools.VersionURLResolved(ctx, host, port)
			fmt.Fprintln(out, "Checking:", url)
			if _, err := chromedevtools.CheckReachable(ctx, url, 3*time.Second); err != nil {
				return fmt.Errorf("Chrome DevTools not reachable at %s (is Chrome running with --remote-debugging-port=%s?): %w", effectiveHost, port, err)
			}

			remote := fmt.Sprintf("http://%s:%s", effectiveHost, port)
			ws, err := chromedevtools.WebSocketURL(ctx, remote, 3*time.Second)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "OK: Chrome DevTools reachable:", ws)

			if strings.TrimSpace(page) == "" {
				return nil
			}

			d := browser.New(browser.Options{RemoteURL: remote})
			pageCtx, cancel := withBudget(ctx, timeout)
			defer cancel()
			cookies, err := d.PageCookies(pageCtx, page, "")
			if err != nil {
				return fmt.Errorf("load %s: %w", page, err)
			}
			names := make([]string, 0, len(cookies))
			for name := range cookies {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(out, "OK: %s set %d cookie(s): %s\n", page, len(names), strings.Join(names, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", envutil.String(os.Getenv, "CHROME_DEBUG_HOST", ""), "DevTools host (empty: localhost, or the Docker host inside a container)")
	cmd.Flags().StringVar(&port, "port", envutil.String(os.Getenv, "CHROME_DEBUG_PORT", "9222"), "DevTools remote debugging port")
	cmd.Flags().StringVar(&page, "page", "", "Load this URL through the browser and list the cookies it sets (e.g. a provider login page)")
	cmd.Flags().DurationVar(&timeout, "timeout", envutil.Duration(os.Getenv, "LOGIN_TIMEOUT", time.Minute), "Time budget for --page")
	return cmd
}
