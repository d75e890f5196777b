package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"newapi-checkin/config"
	"newapi-checkin/internal/envutil"
)

type chromeFlags struct {
	addr       string
	port       string
	profileDir string
	headless   bool
	userAgent  string
	execPath   string
}

func (f chromeFlags) validate() error {
	switch {
	case strings.TrimSpace(f.addr) == "":
		return errors.New("missing --addr")
	case strings.TrimSpace(f.port) == "":
		return errors.New("missing --port")
	case strings.TrimSpace(f.profileDir) == "":
		return errors.New("missing --profile-dir")
	}
	return nil
}

// args are the Chrome switches for a DevTools-enabled instance the check-in
// run can attach to.
func (f chromeFlags) args() []string {
	args := []string{
		"--remote-debugging-address=" + f.addr,
		"--remote-debugging-port=" + f.port,
		"--user-data-dir=" + f.profileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-blink-features=AutomationControlled",
	}
	if f.headless {
		args = append(args, "--headless=new")
	}
	if f.userAgent != "" {
		args = append(args, "--user-agent="+f.userAgent)
	}
	return args
}

func newChromeCmd() *cobra.Command {
	var f chromeFlags

	cmd := &cobra.Command{
		Use:   "chrome",
		Short: "Start Chrome with DevTools enabled, for BROWSER_REMOTE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(f.profileDir, 0o755); err != nil {
				return err
			}

			var c *exec.Cmd
			switch runtime.GOOS {
			case "darwin":
				c = exec.Command("open", append([]string{"-na", "Google Chrome", "--args"}, f.args()...)...)
			case "linux":
				bin, err := chromeBinary(f.execPath)
				if err != nil {
					return err
				}
				c = exec.Command(bin, append(f.args(), "--use-gl=angle", "--use-angle=swiftshader")...)
				c.Stdout = io.Discard
				c.Stderr = io.Discard
			default:
				return fmt.Errorf("unsupported OS for auto-launch: %s (start Chrome manually with --remote-debugging-port and --user-data-dir)", runtime.GOOS)
			}
			if err := c.Start(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chrome launch requested (port=%s, profile=%s)\n", f.port, f.profileDir)
			fmt.Fprintf(out, "Use it for logins with: BROWSER_REMOTE_URL=http://%s:%s\n", f.addr, f.port)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", envutil.String(os.Getenv, "CHROME_DEBUG_BIND_ADDR", "127.0.0.1"), "DevTools bind address (0.0.0.0 for Docker access)")
	cmd.Flags().StringVar(&f.port, "port", envutil.String(os.Getenv, "CHROME_DEBUG_PORT", "9222"), "DevTools remote debugging port")
	cmd.Flags().StringVar(&f.profileDir, "profile-dir", envutil.String(os.Getenv, "CHROME_PROFILE_DIR", defaultProfileDir()), "Dedicated Chrome profile directory")
	cmd.Flags().BoolVar(&f.headless, "headless", envutil.Bool(os.Getenv, "BROWSER_HEADLESS", false), "Run without a window")
	cmd.Flags().StringVar(&f.execPath, "exec-path", envutil.String(os.Getenv, "BROWSER_EXEC_PATH", ""), "Chrome binary on Linux (default: first Chrome or Chromium on PATH)")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", envutil.String(os.Getenv, "BROWSER_USER_AGENT", config.DefaultUserAgent), "User agent presented to sites")
	return cmd
}
