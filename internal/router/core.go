package router

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

// Routes is a set of endpoints served from the shared mux, such as the mock
// provider's newapi API or /health.
type Routes interface {
	Mount(r chi.Router)
}

// MountAll mounts every route set on r in order. A later set may override a
// path registered by an earlier one.
func MountAll(r chi.Router, routes ...Routes) {
	for _, rs := range routes {
		if rs != nil {
			rs.Mount(r)
		}
	}
}

// AsRoutes registers constructor's result with the mux built by routerfx.
func AsRoutes(constructor any) any {
	return fx.Annotate(
		constructor,
		fx.As(new(Routes)),
		fx.ResultTags(`group:"routes"`),
	)
}
