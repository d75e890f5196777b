package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var errUsage = errors.New("usage")

// Execute runs devtool until its command returns or SIGINT/SIGTERM stops a
// long-running one (chrome, mockprovider).
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	return exitCode(root, root.ExecuteContext(ctx), os.Stderr)
}

// exitCode maps err to 0, 1 for a failed check or 2 for usage mistakes, which
// also print the help text.
func exitCode(root *cobra.Command, err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	case isUsageError(err):
		fmt.Fprintln(stderr, "ERROR:", err)
		_ = root.Help()
		return 2
	default:
		fmt.Fprintln(stderr, "ERROR:", err)
		return 1
	}
}

// isUsageError recognizes cobra's argument and flag parsing failures.
func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "invalid argument", "accepts "} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "devtool",
		Short:         "Developer helpers: local Chrome, DevTools checks and a mock provider",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errUsage
		},
	}
	root.AddCommand(
		newChromeCmd(),
		newDoctorCmd(),
		newMockProviderCmd(),
	)
	return root
}
