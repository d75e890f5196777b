package fx

import (
	"go.uber.org/fx"

	"newapi-checkin/internal/app/health"
	"newapi-checkin/internal/router"
)

var Module = fx.Options(
	fx.Provide(router.AsRoutes(health.NewHandler)),
)
