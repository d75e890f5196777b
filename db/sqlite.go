package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"

	// Turso "remote only" driver (no embedded replicas)
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	// Local file databases (SQLITE_PATH).
	_ "modernc.org/sqlite"
)

var ErrSQLiteDisabled = errors.New("sqlite disabled: set TURSO_DATABASE_URL (and TURSO_AUTH_TOKEN) or SQLITE_PATH")

type SQLiteSQLXOut struct {
	fx.Out

	DB *sqlx.DB `name:"sqlite"`
}

type NewSQLXSQLiteDBParams struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    *config.Config
	Logger *zap.SugaredLogger
}

// NewSQLXSQLiteDB connects to Turso remote (libsql://...) using
// libsql-client-go, or to a local file when only SQLITE_PATH is set.
func NewSQLXSQLiteDB(p NewSQLXSQLiteDBParams) (SQLiteSQLXOut, error) {
	driver, dsn := SQLiteDSN(p.Cfg)
	if dsn == "" {
		p.Logger.Infow("sqlite_disabled")
		return SQLiteSQLXOut{}, nil
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return SQLiteSQLXOut{}, fmt.Errorf("open %s db: %w", driver, err)
	}

	// Reasonable defaults for remote DB:
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.Mapper = reflectx.NewMapperFunc("json", strings.ToLower)

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				_ = db.Close()
				return fmt.Errorf("ping %s db: %w", driver, err)
			}
			p.Logger.Infow("sqlite_enabled", "driver", driver)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})

	return SQLiteSQLXOut{DB: db}, nil
}

// SQLiteDSN picks the driver and DSN from config. TURSO_DATABASE_URL wins
// over SQLITE_PATH; an empty DSN means disabled.
func SQLiteDSN(cfg *config.Config) (driver, dsn string) {
	if dsn = strings.TrimSpace(cfg.Turso.DSN); dsn != "" {
		return "libsql", ensureAuthTokenQuery(dsn, strings.TrimSpace(cfg.Turso.Token))
	}
	if path := strings.TrimSpace(cfg.Turso.Path); path != "" {
		return "sqlite", path
	}
	return "", ""
}

func ensureAuthTokenQuery(dsn, token string) string {
	if token == "" {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return dsn
	}

	// Don’t add tokens to local sqlite/file DSNs.
	if strings.EqualFold(u.Scheme, "file") || strings.EqualFold(u.Scheme, "sqlite") {
		return dsn
	}

	q := u.Query()
	if q.Get("authToken") != "" {
		return dsn
	}

	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String()
}
