package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var chromeCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}

var lookPath = exec.LookPath

// chromeBinary resolves execPath when given (BROWSER_EXEC_PATH), otherwise the
// first known Chrome build on PATH.
func chromeBinary(execPath string) (string, error) {
	if execPath = strings.TrimSpace(execPath); execPath != "" {
		bin, err := lookPath(execPath)
		if err != nil {
			return "", fmt.Errorf("BROWSER_EXEC_PATH %q: %w", execPath, err)
		}
		return bin, nil
	}
	for _, c := range chromeCandidates {
		if bin, err := lookPath(c); err == nil {
			return bin, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium on PATH (tried %s); set BROWSER_EXEC_PATH", strings.Join(chromeCandidates, ", "))
}

// defaultProfileDir is the devtool Chrome profile, kept with other per-user
// caches so logins survive restarts.
func defaultProfileDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "newapi-checkin", "chrome-profile")
	}
	return filepath.Join(".newapi-checkin", "chrome-profile")
}

// withBudget bounds ctx by d; zero or less leaves only the caller's deadline.
func withBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
