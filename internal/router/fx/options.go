package fx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
	"newapi-checkin/internal/router"
)

var CoreRouterOptions = fx.Options(
	fx.Provide(NewMux),
)

type muxParams struct {
	fx.In

	Cfg      *config.Config
	Logger   *zap.SugaredLogger
	Routes []router.Routes `group:"routes"`
}

// allowedOrigins returns the configured origins plus local dev servers
// outside production. An empty result disables CORS.
func allowedOrigins(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	origins := append([]string(nil), cfg.CORSAllowedOrigins...)
	switch cfg.ENV {
	case config.Dev, config.Test:
		origins = append(origins,
			"http://localhost:*",
			"http://127.0.0.1:*",
		)
	}
	return origins
}

func NewMux(p muxParams) *chi.Mux {
	r := chi.NewRouter()

	origins := allowedOrigins(p.Cfg)
	corsEnabled := len(origins) > 0
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Cookie", "New-Api-User", "Veloera-User"},
			ExposedHeaders:   []string{"Set-Cookie"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapRequestLogger(p.Logger))

	if corsEnabled {
		r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	router.MountAll(r, p.Routes...)

	return r
}

func zapRequestLogger(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Infow("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration", time.Since(start),
			)
		})
	}
}
