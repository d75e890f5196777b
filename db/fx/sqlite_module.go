package fx

import (
	"go.uber.org/fx"

	"newapi-checkin/db"
)

var SQLiteModule = fx.Module(
	"sqlx-sqlite-db",
	fx.Provide(db.NewSQLXSQLiteDB),
)
