package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/search"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

type SearchHandler struct {
	store     store.MixtureStore
	optimizer *search.Optimizer
	repairer  *search.SwapRepairer
	hermes    hermes.Client
	logger    *slog.Logger
}

func NewSearchHandler(s store.MixtureStore, o *search.Optimizer, rep *search.SwapRepairer, h hermes.Client, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{store: s, optimizer: o, repairer: rep, hermes: h, logger: logger}
}

type optimizeBody struct {
	search.OptimizeRequest
	P *float64 `json:"p"`
}

type OptimizeResponse struct {
	Count      int                 `json:"count"`
	Candidates []*search.Candidate `json:"candidates"`
}

// Optimize searches for mixtures near a target XYZ.
// POST /api/v1/optimize
func (h *SearchHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var body optimizeBody
	if !decode(w, r, &body) {
		return
	}
	req := body.OptimizeRequest
	req.P = pOrDefault(body.P)

	start := time.Now()
	cands, err := h.optimizer.Optimize(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if h.hermes != nil {
		_ = h.hermes.Publish(hermes.SubjectOptimizeCompleted, hermes.OptimizeCompletedEvent{
			MainMaterialID: req.MainMaterialID.String(),
			Target:         []float64{req.Target.X, req.Target.Y, req.Target.Z},
			Candidates:     len(cands),
			BestDistance:   cands[0].Distance,
			DurationMs:     time.Since(start).Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, OptimizeResponse{Count: len(cands), Candidates: cands})
}
