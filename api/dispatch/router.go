// Package dispatch exposes the admin HTTP API: the event audit log, order
// status and escalation control, Prometheus metrics and a health check.
package dispatch

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/repairdispatch/core/dispatch/logging"
)

// Options configures the router. A nil Dispatcher or Orders disables the
// matching order routes; a nil Gatherer serves the default Prometheus
// registry.
type Options struct {
	Store      logging.LogStore
	Orders     OrderReader
	Dispatcher Dispatcher
	JWTSecret  string
	JWTIssuer  string
	Gatherer   prometheus.Gatherer
}

// NewRouter builds the admin API.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/dispatch", func(r chi.Router) {
		r.Use(RequireJWT(opts.JWTSecret, opts.JWTIssuer))
		if opts.Store != nil {
			r.Method(http.MethodGet, "/events", NewEventsHandler(opts.Store))
		}
		if opts.Orders != nil {
			h := statusHandler{orders: opts.Orders}
			r.Get("/orders", h.list)
			r.Get("/orders/{id}", h.get)
		}
		if opts.Dispatcher != nil {
			h := ordersHandler{d: opts.Dispatcher}
			r.Post("/orders/{id}/assign", h.assign)
			r.Post("/orders/{id}/cancel", h.cancel)
		}
	})
	return r
}
