package fx

import (
	"go.uber.org/fx"

	"newapi-checkin/db"
)

var Module = fx.Module(
	"sqlx-postgres-db",
	fx.Provide(db.NewSQLXPostgresDB),
)
