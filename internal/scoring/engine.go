package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/Formulary/internal/expr"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

// loadConcurrency bounds parallel material loads against the store.
const loadConcurrency = 4

// DefaultHook is called once for every default model this process persists.
type DefaultHook func(ctx context.Context, m *store.MetricModel)

// Engine loads metric models for materials and evaluates mixtures against
// them. Loading may write default models; evaluation of a loaded
// ModelTable is pure.
type Engine struct {
	store  store.ModelStore
	gates  GateParams
	logger *slog.Logger
	group  singleflight.Group
	onDef  DefaultHook
}

// NewEngine creates an Engine backed by ms.
func NewEngine(ms store.ModelStore, gates GateParams, logger *slog.Logger) *Engine {
	return &Engine{store: ms, gates: gates, logger: logger}
}

// OnDefaultSynthesized registers a hook for newly persisted default models.
func (e *Engine) OnDefaultSynthesized(h DefaultHook) { e.onDef = h }

func (e *Engine) Gates() GateParams { return e.gates }

type compiledModel struct {
	model *store.MetricModel
	prog  *expr.Program // nil when the expression failed to compile
}

// ModelTable is an immutable snapshot of the active model for every
// (material, metric) pair of a set of materials.
type ModelTable struct {
	materials map[uuid.UUID]*store.Material
	models    map[uuid.UUID]map[Metric]compiledModel
	gates     GateParams
	logger    *slog.Logger
}

// Material returns a loaded material, or nil.
func (t *ModelTable) Material(id uuid.UUID) *store.Material {
	return t.materials[id]
}

// Has reports whether id was loaded.
func (t *ModelTable) Has(id uuid.UUID) bool {
	_, ok := t.materials[id]
	return ok
}

// Model returns the active model used for (id, metric).
func (t *ModelTable) Model(id uuid.UUID, metric Metric) *store.MetricModel {
	return t.models[id][metric].model
}

// LoadModels fetches each material and its active models, synthesizing and
// persisting a default for every missing pair. An unknown material id is an
// InputError. A model whose expression does not compile is kept and
// contributes 0.
func (e *Engine) LoadModels(ctx context.Context, ids []uuid.UUID) (*ModelTable, error) {
	start := time.Now()
	defer func() { modelLoadDuration.Observe(time.Since(start).Seconds()) }()

	t := &ModelTable{
		materials: make(map[uuid.UUID]*store.Material, len(ids)),
		models:    make(map[uuid.UUID]map[Metric]compiledModel, len(ids)),
		gates:     e.gates,
		logger:    e.logger,
	}

	seen := make(map[uuid.UUID]bool, len(ids))
	var unique []uuid.UUID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, id := range unique {
		g.Go(func() error {
			mat, models, err := e.loadMaterial(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			t.materials[id] = mat
			t.models[id] = models
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) loadMaterial(ctx context.Context, id uuid.UUID) (*store.Material, map[Metric]compiledModel, error) {
	mat, err := e.store.GetMaterial(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load material %s: %w", id, err)
	}
	if mat == nil {
		return nil, nil, Inputf("material_id", "material %s not found", id)
	}

	models := make(map[Metric]compiledModel, len(AllMetrics))
	for _, metric := range AllMetrics {
		m, err := e.activeModel(ctx, mat, metric)
		if err != nil {
			return nil, nil, err
		}
		prog, err := expr.Compile(m.Expression)
		if err != nil {
			expressionFailures.WithLabelValues(string(metric), "compile").Inc()
			e.logger.Warn("metric model does not compile, contributing 0",
				"material_id", id, "metric", metric, "model_id", m.ID, "error", err)
		}
		models[metric] = compiledModel{model: m, prog: prog}
	}
	return mat, models, nil
}

// activeModel returns the active model for (mat, metric), persisting the
// default when there is none. Concurrent callers in this process share one
// synthesis per pair; concurrent processes are serialized by the store.
func (e *Engine) activeModel(ctx context.Context, mat *store.Material, metric Metric) (*store.MetricModel, error) {
	m, err := e.store.GetActiveModel(ctx, mat.ID, string(metric))
	if err != nil {
		return nil, fmt.Errorf("load model %s/%s: %w", mat.ID, metric, err)
	}
	if m != nil {
		return m, nil
	}

	key := mat.ID.String() + "/" + string(metric)
	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		// every waiter shares this result, so one caller's cancellation
		// must not fail the others
		ctx := context.WithoutCancel(ctx)
		def := DefaultModel(mat, metric)
		inserted, err := e.store.UpsertDefaultModel(ctx, def)
		if err != nil {
			return nil, fmt.Errorf("persist default model %s/%s: %w", mat.ID, metric, err)
		}
		if inserted {
			defaultModels.WithLabelValues("inserted").Inc()
			e.logger.Info("synthesized default metric model",
				"material_id", mat.ID, "material", mat.Name, "metric", metric, "params", def.Params)
			if e.onDef != nil {
				e.onDef(ctx, def)
			}
		} else {
			defaultModels.WithLabelValues("existing").Inc()
		}

		// the stored row is the fact of record, whoever wrote it
		cur, err := e.store.GetActiveModel(ctx, mat.ID, string(metric))
		if err != nil {
			return nil, fmt.Errorf("reload model %s/%s: %w", mat.ID, metric, err)
		}
		if cur == nil {
			cur = def
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.MetricModel), nil
}

// Contributions evaluates every model of every share at the share's
// fraction. Failed evaluations contribute 0 and are logged.
func (t *ModelTable) Contributions(shares []Share, p float64) (Contributions, error) {
	c := make(Contributions, len(AllMetrics))
	for _, metric := range AllMetrics {
		c[metric] = make([]float64, 0, len(shares))
	}
	for _, s := range shares {
		models, ok := t.models[s.MaterialID]
		if !ok {
			return nil, Inputf("material_id", "material %s not loaded", s.MaterialID)
		}
		for _, metric := range AllMetrics {
			c[metric] = append(c[metric], t.contribution(s, metric, models[metric], p))
		}
	}
	return c, nil
}

func (t *ModelTable) contribution(s Share, metric Metric, cm compiledModel, p float64) float64 {
	if cm.prog == nil {
		return 0
	}
	v, err := cm.prog.Eval(expr.Scope{R: s.Fraction, P: p, Params: cm.model.Params})
	if err != nil {
		expressionFailures.WithLabelValues(string(metric), "eval").Inc()
		t.logger.Debug("metric model evaluation failed, contributing 0",
			"material_id", s.MaterialID, "metric", metric, "error", err)
		return 0
	}
	return v
}

// Evaluate scores a mixture against the loaded models.
func (t *ModelTable) Evaluate(items []store.BOMItem, p float64) (Evaluation, error) {
	if err := ValidateP(p); err != nil {
		return Evaluation{}, err
	}
	shares, err := NormalizeItems(items)
	if err != nil {
		return Evaluation{}, err
	}
	c, err := t.Contributions(shares, p)
	if err != nil {
		return Evaluation{}, err
	}
	m := Combine(c, t.gates)
	return Evaluation{Metrics: m, XYZ: m.XYZ()}, nil
}

// EvaluateMixture loads the mixture's models and scores it.
func (e *Engine) EvaluateMixture(ctx context.Context, items []store.BOMItem, p float64) (*Evaluation, error) {
	if err := ValidateP(p); err != nil {
		return nil, err
	}
	shares, err := NormalizeItems(items)
	if err != nil {
		return nil, err
	}
	t, err := e.LoadModels(ctx, shareIDs(shares))
	if err != nil {
		return nil, err
	}
	ev, err := t.Evaluate(items, p)
	if err != nil {
		return nil, err
	}
	evaluations.Inc()
	return &ev, nil
}

// MaterialContribution is one material's model outputs within a mixture.
type MaterialContribution struct {
	MaterialID    uuid.UUID          `json:"material_id"`
	Name          string             `json:"material"`
	Share         float64            `json:"share"`
	Contributions map[string]float64 `json:"contributions"`
	ModelVersions map[string]string  `json:"model_versions"`
}

// Explanation breaks an evaluation down per material.
type Explanation struct {
	Report    Report                 `json:"report"`
	Materials []MaterialContribution `json:"materials"`
}

// Explain evaluates a mixture and reports every material's contribution to
// every metric, on 0..100 and rounded to 2 decimals. Materials are ordered
// by share, largest first.
func (e *Engine) Explain(ctx context.Context, items []store.BOMItem, p float64) (*Explanation, error) {
	if err := ValidateP(p); err != nil {
		return nil, err
	}
	shares, err := NormalizeItems(items)
	if err != nil {
		return nil, err
	}
	t, err := e.LoadModels(ctx, shareIDs(shares))
	if err != nil {
		return nil, err
	}
	c, err := t.Contributions(shares, p)
	if err != nil {
		return nil, err
	}
	m := Combine(c, t.gates)
	out := &Explanation{Report: Evaluation{Metrics: m, XYZ: m.XYZ()}.Report()}
	for i, s := range shares {
		mc := MaterialContribution{
			MaterialID:    s.MaterialID,
			Name:          t.materials[s.MaterialID].Name,
			Share:         Round4(s.Fraction),
			Contributions: make(map[string]float64, len(AllMetrics)),
			ModelVersions: make(map[string]string, len(AllMetrics)),
		}
		for _, metric := range AllMetrics {
			mc.Contributions[string(metric)] = Round2(100 * c[metric][i])
			mc.ModelVersions[string(metric)] = t.models[s.MaterialID][metric].model.Version
		}
		out.Materials = append(out.Materials, mc)
	}
	sort.SliceStable(out.Materials, func(i, j int) bool {
		return out.Materials[i].Share > out.Materials[j].Share
	})
	evaluations.Inc()
	return out, nil
}

// TestExpression compiles src and evaluates it at (r, p) with params,
// returning the saturated value. Used to preview a model before saving it.
func TestExpression(src string, params map[string]float64, r, p float64) (float64, error) {
	v, err := expr.Evaluate(src, expr.Scope{R: r, P: p, Params: params})
	if err != nil {
		var exprErr *expr.Error
		if errors.As(err, &exprErr) {
			return 0, &InputError{Field: "expression", Msg: exprErr.Error()}
		}
		return 0, err
	}
	return v, nil
}

func shareIDs(shares []Share) []uuid.UUID {
	ids := make([]uuid.UUID, len(shares))
	for i, s := range shares {
		ids[i] = s.MaterialID
	}
	return ids
}
