package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/db/migrations"
	dbfx "newapi-checkin/db/fx"
	appfx "newapi-checkin/internal/app/fx"
)

// MigrateCmd is a goose command: up, down, status, version, redo, reset.
type MigrateCmd string

func main() {
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	app := fx.New(
		appfx.CoreAppOptions,
		dbfx.Module,
		dbfx.SQLiteModule,
		fx.Supply(MigrateCmd(cmd)),
		fx.Invoke(registerMigrateHook),
	)

	startCtx, startCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type migrateHookParams struct {
	fx.In

	Lc       fx.Lifecycle
	SQLite   *sqlx.DB `name:"sqlite" optional:"true"`
	Postgres *sqlx.DB `name:"postgres" optional:"true"`
	Logger   *zap.SugaredLogger

	Cmd MigrateCmd
}

// target picks the history database the same way the check-in run does.
func target(sqliteDB, postgresDB *sqlx.DB) (*sqlx.DB, string, error) {
	switch {
	case sqliteDB != nil:
		return sqliteDB, "sqlite3", nil
	case postgresDB != nil:
		return postgresDB, "postgres", nil
	}
	return nil, "", errors.New("no history database: set TURSO_DATABASE_URL, SQLITE_PATH or DB_HOST/DB_NAME")
}

func registerMigrateHook(p migrateHookParams) {
	p.Lc.Append(fx.Hook{
		// Appended after the db hooks, so connections are already pinged.
		OnStart: func(ctx context.Context) error {
			conn, dialect, err := target(p.SQLite, p.Postgres)
			if err != nil {
				return err
			}
			if err := goose.SetDialect(dialect); err != nil {
				return fmt.Errorf("set goose dialect: %w", err)
			}
			goose.SetBaseFS(migrations.FS)

			cmd := strings.TrimSpace(string(p.Cmd))
			p.Logger.Infow("goose_run_start", "cmd", cmd, "dialect", dialect, "driver", conn.DriverName())
			if err := goose.RunContext(ctx, cmd, conn.DB, "."); err != nil {
				return fmt.Errorf("goose run %q: %w", cmd, err)
			}
			p.Logger.Infow("goose_run_done", "cmd", cmd)
			return nil
		},
	})
}
