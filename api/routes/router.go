package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/catalogsync/api/controllers"
	"github.com/angelmondragon/catalogsync/api/middleware"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

// Deps are the read-only dependencies of the ops router. Gatherer defaults
// to the global prometheus registry.
type Deps struct {
	Env      string
	Logger   *logger.Logger
	Checks   map[string]controllers.Pinger
	Runs     controllers.RunReader
	History  controllers.HistoryReader
	Gatherer prometheus.Gatherer
}

// NewRouter exposes probes, metrics and the reset/mirror inspection endpoints
// served by the sync worker.
func NewRouter(deps Deps) http.Handler {
	logg := deps.Logger
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg, "/health/live", "/health/ready", "/healthz", "/metrics"),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Env))
		r.Get("/ready", controllers.HealthReady(deps.Env, logg, deps.Checks))
	})
	r.Get("/healthz", controllers.HealthReady(deps.Env, logg, deps.Checks))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Runs != nil {
			r.Get("/reset-runs/interrupted", controllers.InterruptedResetRuns(deps.Runs, logg))
			r.Get("/products/{productId}/reset-runs/latest", controllers.LatestResetRun(deps.Runs, logg))
		}
		if deps.History != nil {
			r.Get("/variants/{variantId}/price-history", controllers.VariantPriceHistory(deps.History, logg))
		}
	})

	return r
}
