package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// requestTimeout bounds every request, including waits on task mailboxes.
const requestTimeout = 30 * time.Second

// NewRouter builds the status API routes:
//
//	GET  /api/v0/node/stats
//	GET  /api/v0/network/peers
//	GET  /api/v0/leaders/logs
//	GET  /api/v0/fragment/logs
//	POST /api/v0/message
//	POST /api/v0/shutdown
//	GET  /metrics
func NewRouter(h *Handlers, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/api/v0", func(r chi.Router) {
		r.Get("/node/stats", h.NodeStats)
		r.Get("/network/peers", h.Peers)
		r.Get("/leaders/logs", h.LeadersLogs)
		r.Get("/fragment/logs", h.FragmentLogs)
		r.Post("/message", h.PostMessage)
		r.Post("/shutdown", h.Shutdown)
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}
