package fx

import (
	"go.uber.org/fx"

	"newapi-checkin/cache"
)

var Module = fx.Module(
	"redis",
	fx.Provide(cache.NewRedis),
)
