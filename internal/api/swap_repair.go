package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/search"
)

type swapRepairBody struct {
	search.SwapRepairRequest
	BaseSampleID *uuid.UUID `json:"base_sample_id,omitempty"`
	P            *float64   `json:"p"`
}

// SwapRepair substitutes one material and suggests compensating additions.
// The base mixture is given inline or as a sample's active BOM.
// POST /api/v1/swap-repair
func (h *SearchHandler) SwapRepair(w http.ResponseWriter, r *http.Request) {
	var body swapRepairBody
	if !decode(w, r, &body) {
		return
	}
	req := body.SwapRepairRequest
	req.P = pOrDefault(body.P)

	if body.BaseSampleID != nil {
		items, found, err := activeItems(r.Context(), h.store, *body.BaseSampleID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if !found {
			writeMessage(w, http.StatusNotFound, "sample not found")
			return
		}
		req.Base = items
	}

	res, err := h.repairer.SwapRepair(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if h.hermes != nil {
		_ = h.hermes.Publish(hermes.SubjectSwapRepairCompleted, hermes.SwapRepairCompletedEvent{
			FromMaterialID: req.FromID.String(),
			ToMaterialID:   req.ToID.String(),
			Suggestions:    len(res.Suggestions),
			Repaired:       len(res.RepairedCandidates),
		})
	}
	writeJSON(w, http.StatusOK, res)
}
