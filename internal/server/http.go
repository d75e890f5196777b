package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"newapi-checkin/config"
)

// maxRequestBytes caps request bodies; newapi endpoints only take small JSON.
const maxRequestBytes = 1 << 20

// NewHTTPServer serves mux on APP_PORT. Connection errors are written to log
// rather than the standard library logger.
func NewHTTPServer(cfg *config.Config, mux *chi.Mux, log *zap.SugaredLogger) (*http.Server, error) {
	if cfg.AppPort <= 0 || cfg.AppPort > 65535 {
		return nil, fmt.Errorf("invalid APP_PORT %d", cfg.AppPort)
	}
	errLog, err := zap.NewStdLogAt(log.Desugar().Named("http"), zap.WarnLevel)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.AppPort)),
		Handler:           http.MaxBytesHandler(mux, maxRequestBytes),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Run.HTTPTimeout,
		IdleTimeout:       time.Minute,
		ErrorLog:          errLog,
	}, nil
}
