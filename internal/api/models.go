package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

// SampleRefresher recomputes cached sample scores.
type SampleRefresher interface {
	RefreshSample(ctx context.Context, sampleID uuid.UUID) (*scoring.XYZ, error)
	Trigger()
}

type ModelsHandler struct {
	store     store.Store
	hermes    hermes.Client
	refresher SampleRefresher
	logger    *slog.Logger
}

func NewModelsHandler(s store.Store, h hermes.Client, ref SampleRefresher, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{store: s, hermes: h, refresher: ref, logger: logger}
}

type ModelRequest struct {
	MaterialID uuid.UUID          `json:"material_id"`
	Metric     string             `json:"metric"`
	Expression string             `json:"expression"`
	Params     map[string]float64 `json:"params"`
	Variables  []string           `json:"variables,omitempty"`
	Version    string             `json:"version"`
	Notes      string             `json:"notes,omitempty"`
	Activate   bool               `json:"activate,omitempty"`
}

type TestExpressionRequest struct {
	Expression string             `json:"expression"`
	Params     map[string]float64 `json:"params"`
	R          float64            `json:"r"`
	P          *float64           `json:"p"`
}

// validateExpression compiles and evaluates src at a mid-range point.
func validateExpression(src string, params map[string]float64) error {
	if src == "" {
		return scoring.Inputf("expression", "is required")
	}
	_, err := scoring.TestExpression(src, params, 0.5, 0.5)
	return err
}

func (h *ModelsHandler) publishModel(subject string, m *store.MetricModel) {
	if h.hermes == nil {
		return
	}
	_ = h.hermes.Publish(subject, hermes.ModelEvent{
		ModelID:    m.ID.String(),
		MaterialID: m.MaterialID.String(),
		Metric:     m.Metric,
		Version:    m.Version,
		Expression: m.Expression,
		Params:     m.Params,
	})
}

// List returns models, optionally filtered by material_id, metric and
// active=true.
// GET /api/v1/models
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.ModelFilter
	if v := q.Get("material_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid material_id")
			return
		}
		filter.MaterialID = &id
	}
	if v := q.Get("metric"); v != "" {
		if _, ok := scoring.ParseMetric(v); !ok {
			writeMessage(w, http.StatusBadRequest, "invalid metric")
			return
		}
		filter.Metric = v
	}
	if v := q.Get("active"); v != "" {
		filter.ActiveOnly, _ = strconv.ParseBool(v)
	}

	models, err := h.store.ListModels(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if models == nil {
		models = []*store.MetricModel{}
	}
	writeJSON(w, http.StatusOK, models)
}

// Create stores a new, inactive model version, activating it on request.
// POST /api/v1/models
func (h *ModelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !decode(w, r, &req) {
		return
	}
	if _, ok := scoring.ParseMetric(req.Metric); !ok {
		writeMessage(w, http.StatusBadRequest, "invalid metric")
		return
	}
	mat, err := h.store.GetMaterial(r.Context(), req.MaterialID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if mat == nil {
		writeMessage(w, http.StatusBadRequest, "material_id not found")
		return
	}
	if err := validateExpression(req.Expression, req.Params); err != nil {
		writeError(w, h.logger, err)
		return
	}

	m := &store.MetricModel{
		MaterialID: req.MaterialID,
		Metric:     req.Metric,
		Expression: req.Expression,
		Params:     req.Params,
		Variables:  req.Variables,
		Version:    req.Version,
		Notes:      req.Notes,
	}
	if m.Version == "" {
		m.Version = "v1"
	}
	if len(m.Variables) == 0 {
		m.Variables = []string{"r", "p"}
	}
	if err := h.store.CreateModel(r.Context(), m); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.publishModel(hermes.SubjectModelCreated(m.ID.String()), m)

	if req.Activate {
		active, err := h.activate(r.Context(), m.ID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		m = active
	}
	writeJSON(w, http.StatusCreated, m)
}

// Update edits a model version in place.
// PUT /api/v1/models/{id}
func (h *ModelsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req ModelRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.store.GetModel(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if m == nil {
		writeMessage(w, http.StatusNotFound, "model not found")
		return
	}

	if req.Expression != "" {
		m.Expression = req.Expression
	}
	if req.Params != nil {
		m.Params = req.Params
	}
	if req.Variables != nil {
		m.Variables = req.Variables
	}
	if req.Version != "" {
		m.Version = req.Version
	}
	if req.Notes != "" {
		m.Notes = req.Notes
	}
	if err := validateExpression(m.Expression, m.Params); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.store.UpdateModel(r.Context(), m); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.publishModel(hermes.SubjectModelUpdated(m.ID.String()), m)
	if m.Active && h.refresher != nil {
		h.refresher.Trigger()
	}
	writeJSON(w, http.StatusOK, m)
}

// SetActive makes a model the active one for its (material, metric) pair.
// PUT /api/v1/models/{id}/set-active
func (h *ModelsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.activate(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if m == nil {
		writeMessage(w, http.StatusNotFound, "model not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *ModelsHandler) activate(ctx context.Context, id uuid.UUID) (*store.MetricModel, error) {
	m, err := h.store.SetActiveModel(ctx, id)
	if err != nil || m == nil {
		return m, err
	}
	h.logger.Info("metric model activated", "model_id", m.ID, "material_id", m.MaterialID, "metric", m.Metric, "version", m.Version)
	h.publishModel(hermes.SubjectModelActivated(m.ID.String()), m)
	if h.refresher != nil {
		h.refresher.Trigger()
	}
	return m, nil
}

// Test evaluates an expression without saving it.
// POST /api/v1/models/test
func (h *ModelsHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req TestExpressionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := scoring.ValidateP(pOrDefault(req.P)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	v, err := scoring.TestExpression(req.Expression, req.Params, req.R, pOrDefault(req.P))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"value": v, "percent": scoring.Round2(100 * v)})
}

// Materials lists every material.
// GET /api/v1/materials
func (h *ModelsHandler) Materials(w http.ResponseWriter, r *http.Request) {
	mats, err := h.store.ListMaterials(r.Context(), store.MaterialFilter{})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if mats == nil {
		mats = []*store.Material{}
	}
	writeJSON(w, http.StatusOK, mats)
}
