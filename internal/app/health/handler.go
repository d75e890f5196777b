package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"newapi-checkin/config"
	"newapi-checkin/internal/pkg/render"
)

type status struct {
	OK  bool   `json:"ok"`
	App string `json:"app"`
	Env string `json:"env"`
}

type Handler struct {
	app string
	env string
}

func NewHandler(cfg *config.Config) *Handler {
	return &Handler{app: cfg.AppName, env: string(cfg.ENV)}
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	render.ChiJSON(w, r, http.StatusOK, status{OK: true, App: h.app, Env: h.env})
}
