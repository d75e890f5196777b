package fx

import (
	"go.uber.org/fx"

	"newapi-checkin/internal/server"
)

var Module = fx.Options(
	fx.Provide(server.NewHTTPServer),
	fx.Invoke(RegisterHTTPServerLifecycle),
)
