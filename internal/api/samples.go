package api

import (
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

type SamplesHandler struct {
	store     store.MixtureStore
	hermes    hermes.Client
	refresher SampleRefresher
	logger    *slog.Logger
}

func NewSamplesHandler(s store.MixtureStore, h hermes.Client, ref SampleRefresher, logger *slog.Logger) *SamplesHandler {
	return &SamplesHandler{store: s, hermes: h, refresher: ref, logger: logger}
}

type SampleDetail struct {
	*store.Sample
	Items []store.BOMItem `json:"items"`
}

// GET /api/v1/samples
func (h *SamplesHandler) List(w http.ResponseWriter, r *http.Request) {
	samples, err := h.store.ListSamples(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if samples == nil {
		samples = []*store.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// GET /api/v1/samples/{id}
func (h *SamplesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	sample, err := h.store.GetSample(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if sample == nil {
		writeMessage(w, http.StatusNotFound, "sample not found")
		return
	}
	items, err := h.store.GetActiveBOM(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []store.BOMItem{}
	}
	writeJSON(w, http.StatusOK, SampleDetail{Sample: sample, Items: items})
}

// SetActiveBOM switches a sample's active BOM and refreshes its cached XYZ.
// PUT /api/v1/boms/{id}/set-active
func (h *SamplesHandler) SetActiveBOM(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	bom, err := h.store.SetActiveBOM(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if bom == nil {
		writeMessage(w, http.StatusNotFound, "bom not found")
		return
	}

	if h.hermes != nil {
		_ = h.hermes.Publish(hermes.SubjectSampleBOMActivated(bom.SampleID.String()), hermes.BOMActivatedEvent{
			SampleID: bom.SampleID.String(),
			BOMID:    bom.ID.String(),
			Version:  bom.Version,
		})
	}

	resp := map[string]interface{}{"bom": bom}
	if h.refresher != nil {
		xyz, err := h.refresher.RefreshSample(r.Context(), bom.SampleID)
		if err != nil {
			h.logger.Warn("failed to refresh sample after bom activation", "sample_id", bom.SampleID, "error", err)
		} else if xyz != nil {
			resp["xyz"] = xyz
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
