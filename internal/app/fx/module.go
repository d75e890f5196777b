package fx

import (
	"go.uber.org/fx"

	cachefx "newapi-checkin/cache/fx"
	dbfx "newapi-checkin/db/fx"
	runfx "newapi-checkin/internal/app/run/fx"
	balancefx "newapi-checkin/internal/balance/fx"
	checkinfx "newapi-checkin/internal/checkin/fx"
	historyfx "newapi-checkin/internal/history/fx"
	notifyfx "newapi-checkin/internal/notify/fx"
)

// StorageOptions are the optional backends; each one is disabled when its
// connection settings are missing.
var StorageOptions = fx.Options(
	cachefx.Module,
	dbfx.Module,
	dbfx.SQLiteModule,
	historyfx.Module,
)

// Module wires a complete check-in run.
var Module = fx.Options(
	CoreAppOptions,
	StorageOptions,
	balancefx.Module,
	notifyfx.Module,
	checkinfx.Module,
	runfx.Module,
)
