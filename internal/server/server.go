// Package server assembles the HTTP surface of the gateway.
package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fieldsafe/safegate/internal/config"
	"github.com/fieldsafe/safegate/internal/dispatch"
	"github.com/fieldsafe/safegate/internal/logx"
	"github.com/fieldsafe/safegate/internal/metrics"
	"github.com/fieldsafe/safegate/internal/serverstatus"
	"github.com/fieldsafe/safegate/internal/transport"
)

// Deps carries the wired components the router mounts.
type Deps struct {
	Hub        *transport.Hub
	Dispatcher *dispatch.Dispatcher
	Status     *serverstatus.Reporter
}

// New constructs the HTTP handler for the gateway.
func New(cfg config.ServerConfig, deps Deps) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger)

	preg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = preg
	prometheus.DefaultGatherer = preg
	metrics.Register(preg)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			logx.Log.Error().Err(err).Msg("write healthz")
		}
	})
	r.Get(cfg.WSPath, transport.WSHandler(deps.Hub, deps.Dispatcher, cfg.PushBase))
	r.Post("/connections/{id}", transport.PushHandler(deps.Hub))
	if deps.Status != nil {
		r.Get("/status", deps.Status.Handler())
	}
	if cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}
	return r
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

// Hijack is required for the websocket upgrade to pass through the
// logging wrapper.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := lw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacker not supported")
}

func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)
		if zerolog.GlobalLevel() <= zerolog.InfoLevel {
			logx.Log.Info().Str("method", r.Method).Str("url", r.URL.String()).Int("status", lrw.status).Msg("http")
		}
	})
}
