package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
	"github.com/MikeSquared-Agency/Formulary/internal/surface"
)

// SamplerHandler serves the synthetic exploration curves.
type SamplerHandler struct {
	models   store.ModelStore
	mixtures store.MixtureStore
	logger   *slog.Logger
}

func NewSamplerHandler(ms store.ModelStore, mx store.MixtureStore, logger *slog.Logger) *SamplerHandler {
	return &SamplerHandler{models: ms, mixtures: mx, logger: logger}
}

type CurvesRequest struct {
	Mode           string     `json:"mode"`
	SampleID       *uuid.UUID `json:"sample_id,omitempty"`
	Metric         string     `json:"metric"`
	MaterialID     uuid.UUID  `json:"material_id"`
	ScanMaterialID uuid.UUID  `json:"scan_material_id"`
	Rule           string     `json:"rule"`
	P              *float64   `json:"p"`
	RMax           float64    `json:"r_max"`
	Steps          int        `json:"steps"`
}

type ContributionsRequest struct {
	SampleID       uuid.UUID `json:"sample_id"`
	Metric         string    `json:"metric"`
	ScanMaterialID uuid.UUID `json:"scan_material_id"`
	Rule           string    `json:"rule"`
	P              *float64  `json:"p"`
	RValue         float64   `json:"r_value"`
}

type SurfaceRequest struct {
	MaterialID uuid.UUID `json:"material_id"`
	Metric     string    `json:"metric"`
	RMax       float64   `json:"r_max"`
	RSteps     int       `json:"r_steps"`
	PSteps     int       `json:"p_steps"`
}

// catalog loads every material, indexed by name and by id.
func (h *SamplerHandler) catalog(r *http.Request) (surface.Catalog, map[uuid.UUID]string, error) {
	mats, err := h.models.ListMaterials(r.Context(), store.MaterialFilter{})
	if err != nil {
		return nil, nil, err
	}
	names := make(map[uuid.UUID]string, len(mats))
	for _, m := range mats {
		names[m.ID] = m.Name
	}
	return surface.NewCatalog(mats), names, nil
}

func metricOrDefault(w http.ResponseWriter, metric string) (string, bool) {
	if metric == "" {
		return "deodor_rate", true
	}
	if !surface.ValidMetric(metric) {
		writeMessage(w, http.StatusBadRequest, "invalid metric")
		return "", false
	}
	return metric, true
}

// Curves samples a single material (mode "single") or sweeps one material
// through a sample's active BOM (mode "mix").
// POST /api/v1/curves
func (h *SamplerHandler) Curves(w http.ResponseWriter, r *http.Request) {
	var req CurvesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = "single"
	}
	if req.Mode != "single" && req.Mode != "mix" {
		writeMessage(w, http.StatusBadRequest, "invalid mode")
		return
	}
	metric, ok := metricOrDefault(w, req.Metric)
	if !ok {
		return
	}
	catalog, names, err := h.catalog(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	opts := surface.Options{P: pOrDefault(req.P), RMax: req.RMax, Steps: req.Steps}

	if req.Mode == "single" {
		name, ok := names[req.MaterialID]
		if !ok {
			writeMessage(w, http.StatusBadRequest, "material_id not found")
			return
		}
		writeJSON(w, http.StatusOK, surface.SingleMaterialCurve(catalog[name], metric, opts))
		return
	}

	if req.SampleID == nil {
		writeMessage(w, http.StatusBadRequest, "sample_id required")
		return
	}
	scan, ok := names[req.ScanMaterialID]
	if !ok {
		writeMessage(w, http.StatusBadRequest, "scan_material_id not found")
		return
	}
	items, found, err := activeItems(r.Context(), h.mixtures, *req.SampleID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "sample not found")
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"x": []float64{}, "y": []float64{},
			"xyz_series": surface.Series{X: []float64{}, Y: []float64{}, Z: []float64{}},
			"message":    "sample has no active BOM",
		})
		return
	}

	curve, err := catalog.MixedCurve(surface.RecipeFromBOM(items), metric, scan, surface.ParseRule(req.Rule), opts)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, curve)
}

// Contributions reports each material's synthetic response with the scanned
// material set to r_value.
// POST /api/v1/contributions
func (h *SamplerHandler) Contributions(w http.ResponseWriter, r *http.Request) {
	var req ContributionsRequest
	if !decode(w, r, &req) {
		return
	}
	metric, ok := metricOrDefault(w, req.Metric)
	if !ok {
		return
	}
	catalog, names, err := h.catalog(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	scan, ok := names[req.ScanMaterialID]
	if !ok {
		writeMessage(w, http.StatusBadRequest, "scan_material_id not found")
		return
	}
	items, found, err := activeItems(r.Context(), h.mixtures, req.SampleID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "sample not found")
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"r_value": req.RValue, "parts": []surface.Part{}, "message": "sample has no active BOM",
		})
		return
	}
	writeJSON(w, http.StatusOK, catalog.Contributions(surface.RecipeFromBOM(items), metric, scan,
		pOrDefault(req.P), req.RValue, surface.ParseRule(req.Rule)))
}

// Surface samples one material over ratio and p.
// POST /api/v1/surface
func (h *SamplerHandler) Surface(w http.ResponseWriter, r *http.Request) {
	var req SurfaceRequest
	if !decode(w, r, &req) {
		return
	}
	metric, ok := metricOrDefault(w, req.Metric)
	if !ok {
		return
	}
	m, err := h.models.GetMaterial(r.Context(), req.MaterialID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if m == nil {
		writeMessage(w, http.StatusNotFound, "material not found")
		return
	}
	grid := surface.Surface(surface.Material{Name: m.Name, Tags: m.FunctionTags}, metric, req.RMax, req.RSteps, req.PSteps)
	writeJSON(w, http.StatusOK, grid)
}
