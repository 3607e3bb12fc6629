package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vkyc/pkg/platform/httputil"
)

// HealthChecker reports the readiness of one dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Registrar mounts routes on the shared router.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter assembles the full HTTP surface: the REST API, the WebSocket
// endpoints, Prometheus metrics, and health.
func NewRouter(api *Handler, ws Registrar, checks map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()

	api.Register(r)
	ws.Register(r)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		out := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Health(req.Context()); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = err.Error()
			} else {
				out[name] = "ok"
			}
		}
		httputil.WriteJSON(w, status, out)
	})

	return r
}
