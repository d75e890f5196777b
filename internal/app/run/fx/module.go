package fx

import (
	"go.uber.org/fx"

	"newapi-checkin/internal/app/run"
	"newapi-checkin/internal/balance"
	"newapi-checkin/internal/checkin"
	"newapi-checkin/internal/history"
	"newapi-checkin/internal/notify"
)

var Module = fx.Module(
	"run",
	fx.Provide(
		func(o *checkin.Orchestrator) run.Orchestrator { return o },
		func(s *history.Store) run.HistoryStore { return s },
		func(t *balance.Tracker) run.BalanceTracker { return t },
		func(d *notify.Dispatcher) run.Dispatcher { return d },
		run.NewService,
	),
)
