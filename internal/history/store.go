// Package history keeps one row per account per run in SQL, so past runs
// can be inspected with `checkin history`.
package history

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/db"
	"newapi-checkin/db/migrations"
	"newapi-checkin/internal/checkin"
)

type Row struct {
	ID               string   `db:"id" json:"id" validate:"required"`
	RunID            string   `db:"run_id" json:"run_id" validate:"required"`
	Position         int      `db:"position" json:"position" validate:"gte=0"`
	Account          string   `db:"account" json:"account" validate:"required"`
	Provider         string   `db:"provider" json:"provider" validate:"required"`
	Method           string   `db:"method" json:"method"`
	Status           string   `db:"status" json:"status" validate:"oneof=succeeded failed"`
	Kind             string   `db:"kind" json:"kind"`
	Message          string   `db:"message" json:"message"`
	AlreadyCheckedIn bool     `db:"already_checked_in" json:"already_checked_in"`
	QuotaAwarded     *float64 `db:"quota_awarded" json:"quota_awarded"`
	Quota            *float64 `db:"quota" json:"quota"`
	UsedQuota        *float64 `db:"used_quota" json:"used_quota"`
	BonusQuota       *float64 `db:"bonus_quota" json:"bonus_quota"`
	CheckedAtMS      int64    `db:"checked_at_ms" json:"checked_at_ms" validate:"gt=0"`
}

type Store struct {
	db        *sqlx.DB
	logger    *zap.SugaredLogger
	validator *validator.Validate
}

type NewStoreParams struct {
	fx.In

	SQLite   *sqlx.DB `name:"sqlite" optional:"true"`
	Postgres *sqlx.DB `name:"postgres" optional:"true"`
	Logger   *zap.SugaredLogger
}

// NewStore writes to SQLite/Turso when configured, otherwise Postgres. With
// neither, Save is a no-op.
func NewStore(p NewStoreParams) *Store {
	conn := p.SQLite
	if conn == nil {
		conn = p.Postgres
	}
	return New(conn, p.Logger)
}

func New(conn *sqlx.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: conn, logger: logger, validator: validator.New()}
}

func (s *Store) Enabled() bool { return s.db != nil }

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s.db == nil {
		return db.ErrSQLiteDisabled
	}
	dialect := goose.DialectSQLite3
	if s.db.DriverName() == "pgx" {
		dialect = goose.DialectPostgres
	}
	p, err := goose.NewProvider(dialect, s.db.DB, migrations.FS)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	s.logger.Infow("history_migrated", "applied", len(results))
	return nil
}

const insertRun = `
INSERT INTO checkin_runs (
  run_id,
  started_at_ms,
  finished_at_ms,
  total,
  succeeded,
  failed,
  overall
) VALUES (?, ?, ?, ?, ?, ?, ?)`

const insertResult = `
INSERT INTO checkin_results (
  id,
  run_id,
  position,
  account,
  provider,
  method,
  status,
  kind,
  message,
  already_checked_in,
  quota_awarded,
  quota,
  used_quota,
  bonus_quota,
  checked_at_ms
) VALUES (
  :id,
  :run_id,
  :position,
  :account,
  :provider,
  :method,
  :status,
  :kind,
  :message,
  :already_checked_in,
  :quota_awarded,
  :quota,
  :used_quota,
  :bonus_quota,
  :checked_at_ms
)`

// Save writes the run and all its results in one transaction.
func (s *Store) Save(ctx context.Context, summary checkin.Summary) error {
	if s.db == nil {
		s.logger.Infow("history_disabled_skip_persist", "run_id", summary.RunID)
		return nil
	}

	rows := Rows(summary)
	for _, r := range rows {
		if err := s.validator.Struct(r); err != nil {
			return fmt.Errorf("validate history row %d: %w", r.Position, err)
		}
	}

	_, err := db.Tx(ctx, s.db, func(tx *sqlx.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertRun),
			summary.RunID,
			summary.StartedAt.UnixMilli(),
			summary.FinishedAt.UnixMilli(),
			summary.Total,
			summary.Succeeded,
			summary.Failed,
			string(summary.Overall()),
		); err != nil {
			return struct{}{}, fmt.Errorf("insert checkin_runs: %w", err)
		}
		for _, r := range rows {
			if _, err := tx.NamedExecContext(ctx, insertResult, r); err != nil {
				return struct{}{}, fmt.Errorf("insert checkin_results: %w", err)
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Infow("history_saved", "run_id", summary.RunID, "rows", len(rows))
	return nil
}

// Recent returns the latest results, newest first. An empty account matches
// every account.
func (s *Store) Recent(ctx context.Context, account string, limit int) ([]Row, error) {
	if s.db == nil {
		return nil, db.ErrSQLiteDisabled
	}
	if limit <= 0 {
		limit = 20
	}

	q := `SELECT * FROM checkin_results`
	args := []any{}
	if account != "" {
		q += ` WHERE account = ?`
		args = append(args, account)
	}
	q += ` ORDER BY checked_at_ms DESC, position ASC LIMIT ?`
	args = append(args, limit)

	var out []Row
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("select checkin_results: %w", err)
	}
	return out, nil
}

// Rows flattens a summary into history rows.
func Rows(summary checkin.Summary) []Row {
	rows := make([]Row, 0, len(summary.Results))
	for i, r := range summary.Results {
		row := Row{
			ID:               uuid.NewString(),
			RunID:            summary.RunID,
			Position:         i,
			Account:          r.AccountName,
			Provider:         r.Provider,
			Method:           r.Method,
			Status:           string(r.Status),
			Kind:             string(r.Kind),
			Message:          r.Message,
			AlreadyCheckedIn: r.AlreadyCheckedIn,
			QuotaAwarded:     r.QuotaAwarded,
			CheckedAtMS:      r.Timestamp.UnixMilli(),
		}
		if r.Balance != nil {
			row.Quota = &r.Balance.Quota
			row.UsedQuota = &r.Balance.UsedQuota
			row.BonusQuota = &r.Balance.BonusQuota
		}
		rows = append(rows, row)
	}
	return rows
}
