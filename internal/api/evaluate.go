package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

type EvaluateHandler struct {
	store  store.MixtureStore
	engine *scoring.Engine
	logger *slog.Logger
}

func NewEvaluateHandler(s store.MixtureStore, e *scoring.Engine, logger *slog.Logger) *EvaluateHandler {
	return &EvaluateHandler{store: s, engine: e, logger: logger}
}

// MixtureRequest names a mixture either inline or by a sample's active BOM.
type MixtureRequest struct {
	Items    []store.BOMItem `json:"items"`
	SampleID *uuid.UUID      `json:"sample_id,omitempty"`
	P        *float64        `json:"p,omitempty"`
}

type EvaluateResponse struct {
	scoring.Report
	P     float64         `json:"p"`
	Items []store.BOMItem `json:"items"`
}

// activeItems returns the active BOM of a sample; found is false when the
// sample does not exist.
func activeItems(ctx context.Context, s store.MixtureStore, sampleID uuid.UUID) (items []store.BOMItem, found bool, err error) {
	sample, err := s.GetSample(ctx, sampleID)
	if err != nil {
		return nil, false, err
	}
	if sample == nil {
		return nil, false, nil
	}
	items, err = s.GetActiveBOM(ctx, sampleID)
	if err != nil {
		return nil, true, err
	}
	if items == nil {
		items = []store.BOMItem{}
	}
	return items, true, nil
}

func (h *EvaluateHandler) resolve(w http.ResponseWriter, r *http.Request) ([]store.BOMItem, float64, bool) {
	var req MixtureRequest
	if !decode(w, r, &req) {
		return nil, 0, false
	}
	items := req.Items
	if req.SampleID != nil {
		var found bool
		var err error
		items, found, err = activeItems(r.Context(), h.store, *req.SampleID)
		if err != nil {
			writeError(w, h.logger, err)
			return nil, 0, false
		}
		if !found {
			writeMessage(w, http.StatusNotFound, "sample not found")
			return nil, 0, false
		}
	}
	if items == nil {
		items = []store.BOMItem{}
	}
	return items, pOrDefault(req.P), true
}

// Evaluate scores a mixture.
// POST /api/v1/evaluate
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	items, p, ok := h.resolve(w, r)
	if !ok {
		return
	}
	ev, err := h.engine.EvaluateMixture(r.Context(), items, p)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{Report: ev.Report(), P: p, Items: items})
}

// Explain reports every material's contribution to every metric.
// POST /api/v1/evaluate/explain
func (h *EvaluateHandler) Explain(w http.ResponseWriter, r *http.Request) {
	items, p, ok := h.resolve(w, r)
	if !ok {
		return
	}
	out, err := h.engine.Explain(r.Context(), items, p)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
