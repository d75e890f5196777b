package fx

import (
	"go.uber.org/fx"

	"newapi-checkin/internal/history"
)

var Module = fx.Module(
	"history",
	fx.Provide(history.NewStore),
)
