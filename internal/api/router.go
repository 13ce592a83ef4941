package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/search"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

// Services are the collaborators behind the HTTP surface. Hermes and
// Refresher may be nil.
type Services struct {
	Store     store.Store
	Hermes    hermes.Client
	Engine    *scoring.Engine
	Optimizer *search.Optimizer
	Repairer  *search.SwapRepairer
	Refresher SampleRefresher
}

func NewRouter(svc Services, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	evaluate := NewEvaluateHandler(svc.Store, svc.Engine, logger)
	searches := NewSearchHandler(svc.Store, svc.Optimizer, svc.Repairer, svc.Hermes, logger)
	sampler := NewSamplerHandler(svc.Store, svc.Store, logger)
	models := NewModelsHandler(svc.Store, svc.Hermes, svc.Refresher, logger)
	samples := NewSamplesHandler(svc.Store, svc.Hermes, svc.Refresher, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", evaluate.Evaluate)
		r.Post("/evaluate/explain", evaluate.Explain)
		r.Post("/optimize", searches.Optimize)
		r.Post("/swap-repair", searches.SwapRepair)

		r.Post("/curves", sampler.Curves)
		r.Post("/contributions", sampler.Contributions)
		r.Post("/surface", sampler.Surface)

		r.Get("/materials", models.Materials)
		r.Get("/models", models.List)
		r.Post("/models/test", models.Test)

		r.Get("/samples", samples.List)
		r.Get("/samples/{id}", samples.Get)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Post("/models", models.Create)
			r.Put("/models/{id}", models.Update)
			r.Put("/models/{id}/set-active", models.SetActive)
			r.Put("/boms/{id}/set-active", samples.SetActiveBOM)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
