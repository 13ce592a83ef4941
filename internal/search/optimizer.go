package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

const (
	defaultRatioMin     = 50
	defaultRatioMax     = 80
	defaultRatioStep    = 5
	defaultMaxMaterials = 6
	defaultTopN         = 10
	// defaultMaterialsLimit is the max_materials ceiling when Config leaves it unset.
	defaultMaterialsLimit = 12

	// boundsEpsilon absorbs rounding when comparing ratios to bounds.
	boundsEpsilon = 1e-6
	// splitFloor keeps every drawn weight strictly positive.
	splitFloor = 1e-6
)

// Config bounds the optimizer's work per request.
type Config struct {
	TrialsPerMaterial int  `yaml:"trials_per_material"`
	MaxTrialsPerRatio int  `yaml:"max_trials_per_ratio"`
	Workers           int  `yaml:"workers"`
	ParetoEnabled     bool `yaml:"pareto_enabled"`
	// MaxMaterialsLimit is the largest max_materials a request may ask for.
	MaxMaterialsLimit int `yaml:"max_materials_limit"`
}

func DefaultConfig() Config {
	return Config{
		TrialsPerMaterial: 120,
		MaxTrialsPerRatio: 700,
		Workers:           8,
		ParetoEnabled:     true,
		MaxMaterialsLimit: defaultMaterialsLimit,
	}
}

func (c Config) materialsLimit() int {
	if c.MaxMaterialsLimit <= 0 {
		return defaultMaterialsLimit
	}
	return c.MaxMaterialsLimit
}

// trialsPerRatio scales with the allowed material count, capped.
func (c Config) trialsPerRatio(maxMaterials int) int {
	return min(c.MaxTrialsPerRatio, c.TrialsPerMaterial*maxMaterials)
}

// OptimizeRequest describes one search. Zero values select defaults:
// ratios 50..80 step 5, 6 materials, top 10.
type OptimizeRequest struct {
	MainMaterialID uuid.UUID   `json:"main_material_id"`
	RatioMin       float64     `json:"ratio_min"`
	RatioMax       float64     `json:"ratio_max"`
	RatioStep      float64     `json:"ratio_step"`
	Target         scoring.XYZ `json:"target"`
	MaxMaterials   int         `json:"max_materials"`
	Include        []uuid.UUID `json:"include"`
	Exclude        []uuid.UUID `json:"exclude"`
	P              float64     `json:"p"`
	TopN           int         `json:"top_n"`
}

func (r *OptimizeRequest) applyDefaults() {
	if r.RatioMin == 0 && r.RatioMax == 0 {
		r.RatioMin, r.RatioMax = defaultRatioMin, defaultRatioMax
	}
	if r.RatioStep == 0 {
		r.RatioStep = defaultRatioStep
	}
	if r.RatioStep < 1 {
		r.RatioStep = 1
	}
	if r.MaxMaterials == 0 {
		r.MaxMaterials = defaultMaxMaterials
	}
	if r.MaxMaterials < 2 {
		r.MaxMaterials = 2
	}
	if r.TopN <= 0 {
		r.TopN = defaultTopN
	}
}

func (r *OptimizeRequest) validate() error {
	if r.MainMaterialID == uuid.Nil {
		return scoring.Inputf("main_material_id", "is required")
	}
	if !(r.RatioMin >= 0 && r.RatioMax <= 100 && r.RatioMin <= r.RatioMax) {
		return scoring.Inputf("ratio_range", "need 0 <= min <= max <= 100, got %v..%v", r.RatioMin, r.RatioMax)
	}
	if math.IsNaN(r.RatioStep) || math.IsInf(r.RatioStep, 0) {
		return scoring.Inputf("ratio_step", "must be finite")
	}
	if err := scoring.ValidateP(r.P); err != nil {
		return err
	}
	if err := scoring.ValidateTarget(r.Target); err != nil {
		return err
	}
	if len(r.Include) > r.MaxMaterials-1 {
		return scoring.Inputf("include", "%d required materials exceed max_materials-1 (%d)", len(r.Include), r.MaxMaterials-1)
	}
	for _, id := range r.Include {
		if id == r.MainMaterialID {
			return scoring.Inputf("include", "main material cannot also be included")
		}
		for _, ex := range r.Exclude {
			if ex == id {
				return scoring.Inputf("include", "material %s is both included and excluded", id)
			}
		}
	}
	return nil
}

// mainRatios lists the stepped main-ratio values, inclusive of max.
func (r *OptimizeRequest) mainRatios() []float64 {
	n := int(math.Floor((r.RatioMax-r.RatioMin)/r.RatioStep+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, scoring.Round2(r.RatioMin+float64(i)*r.RatioStep))
	}
	return out
}

// Optimizer runs randomized constrained search for mixtures near a target.
type Optimizer struct {
	engine *scoring.Engine
	store  store.ModelStore
	cfg    Config
	logger *slog.Logger

	// rand.Rand is not safe for concurrent use
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewOptimizer creates an Optimizer. rng is the only source of randomness;
// pass a seeded generator for reproducible searches.
func NewOptimizer(engine *scoring.Engine, ms store.ModelStore, cfg Config, rng *rand.Rand, logger *slog.Logger) *Optimizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Optimizer{engine: engine, store: ms, cfg: cfg, rng: rng, logger: logger}
}

// searchSpace is the resolved material universe of one request.
type searchSpace struct {
	main     *store.Material
	include  []*store.Material
	pool     []*store.Material // candidates for random secondaries, excluding includes
	table    *scoring.ModelTable
	bounds   map[uuid.UUID][2]float64
	maxSec   int
	accepted map[string]bool
}

// Optimize returns up to TopN candidates ranked by distance to the target.
func (o *Optimizer) Optimize(ctx context.Context, req OptimizeRequest) ([]*Candidate, error) {
	start := time.Now()
	defer func() { searchDuration.WithLabelValues("optimize").Observe(time.Since(start).Seconds()) }()

	req.applyDefaults()
	if limit := o.cfg.materialsLimit(); req.MaxMaterials > limit {
		return nil, scoring.Inputf("max_materials", "must be at most %d, got %d", limit, req.MaxMaterials)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	space, err := o.resolve(ctx, &req)
	if err != nil {
		return nil, err
	}

	mixes := o.randomTrials(&req, space)
	cands, err := evaluateAll(ctx, space.table, mixes, req.Target, req.P, o.cfg.Workers, o.logger)
	if err != nil {
		return nil, err
	}
	results := compact(cands)

	if len(results) == 0 {
		searchFallbacks.Inc()
		o.logger.Info("random search found no valid candidate, running fallback scan",
			"main_material_id", req.MainMaterialID, "ratio_min", req.RatioMin, "ratio_max", req.RatioMax)
		fallback := o.fallbackScan(&req, space)
		cands, err = evaluateAll(ctx, space.table, fallback, req.Target, req.P, o.cfg.Workers, o.logger)
		if err != nil {
			return nil, err
		}
		results = compact(cands)
	}

	if len(results) == 0 {
		return nil, &SearchExhaustedError{
			MainMaterial: req.MainMaterialID,
			Min:          req.RatioMin,
			Max:          req.RatioMax,
			Step:         req.RatioStep,
		}
	}

	results = rank(results, req.TopN)
	if o.cfg.ParetoEnabled {
		markPareto(results, req.Target)
	}
	o.logger.Info("optimize complete",
		"main_material_id", req.MainMaterialID, "candidates", len(results), "best_distance", results[0].Distance)
	return results, nil
}

func (o *Optimizer) resolve(ctx context.Context, req *OptimizeRequest) (*searchSpace, error) {
	main, err := o.store.GetMaterial(ctx, req.MainMaterialID)
	if err != nil {
		return nil, fmt.Errorf("load main material: %w", err)
	}
	if main == nil {
		return nil, scoring.Inputf("main_material_id", "material %s not found", req.MainMaterialID)
	}

	space := &searchSpace{
		main:     main,
		bounds:   make(map[uuid.UUID][2]float64),
		maxSec:   req.MaxMaterials - 1,
		accepted: make(map[string]bool),
	}

	for _, id := range req.Include {
		m, err := o.store.GetMaterial(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load included material: %w", err)
		}
		if m == nil {
			return nil, scoring.Inputf("include", "material %s not found", id)
		}
		space.include = append(space.include, m)
	}

	exclude := append([]uuid.UUID{req.MainMaterialID}, req.Exclude...)
	exclude = append(exclude, req.Include...)
	space.pool, err = o.store.ListMaterials(ctx, store.MaterialFilter{Exclude: exclude})
	if err != nil {
		return nil, fmt.Errorf("list candidate materials: %w", err)
	}

	ids := []uuid.UUID{main.ID}
	for _, m := range append(append([]*store.Material{main}, space.include...), space.pool...) {
		lo, hi := m.Bounds()
		space.bounds[m.ID] = [2]float64{lo, hi}
		if m.ID != main.ID {
			ids = append(ids, m.ID)
		}
	}
	space.table, err = o.engine.LoadModels(ctx, ids)
	if err != nil {
		return nil, err
	}
	// never draw more secondaries than exist
	space.maxSec = max(1, min(space.maxSec, len(space.include)+len(space.pool)))
	return space, nil
}

// randomTrials draws every trial up front from the shared generator so a
// seeded search is reproducible regardless of evaluation concurrency.
func (o *Optimizer) randomTrials(req *OptimizeRequest, space *searchSpace) []mixture {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()

	trials := o.cfg.trialsPerRatio(req.MaxMaterials)
	var mixes []mixture
	for _, mainRatio := range req.mainRatios() {
		for i := 0; i < trials; i++ {
			items := o.drawTrial(mainRatio, space)
			if items == nil {
				continue
			}
			if !space.inBounds(items) {
				searchTrials.WithLabelValues("out_of_bounds").Inc()
				continue
			}
			sig := Signature(items)
			if space.accepted[sig] {
				searchTrials.WithLabelValues("duplicate").Inc()
				continue
			}
			space.accepted[sig] = true
			searchTrials.WithLabelValues("accepted").Inc()
			mixes = append(mixes, mixture{
				items: items,
				notes: fmt.Sprintf("random trial: %s %.2f%% + %d secondary", space.main.Name, mainRatio, len(items)-1),
			})
		}
	}
	return mixes
}

// drawTrial picks secondaries and splits the remainder among them by
// normalized uniform weights. Ratios are rounded to 2 decimals.
func (o *Optimizer) drawTrial(mainRatio float64, space *searchSpace) []store.BOMItem {
	secCount := 1 + o.rng.Intn(space.maxSec) // 1..maxMaterials-1
	secCount = max(secCount, len(space.include))

	secondaries := make([]*store.Material, 0, min(secCount, len(space.include)+len(space.pool)))
	secondaries = append(secondaries, space.include...)
	if free := secCount - len(secondaries); free > 0 {
		perm := o.rng.Perm(len(space.pool))
		for _, idx := range perm[:min(free, len(perm))] {
			secondaries = append(secondaries, space.pool[idx])
		}
	}
	if len(secondaries) == 0 {
		return nil
	}

	weights := make([]float64, len(secondaries))
	var total float64
	for i := range weights {
		weights[i] = o.rng.Float64() + splitFloor
		total += weights[i]
	}

	remaining := 100 - mainRatio
	items := make([]store.BOMItem, 0, len(secondaries)+1)
	items = append(items, store.BOMItem{MaterialID: space.main.ID, Ratio: mainRatio})
	for i, m := range secondaries {
		items = append(items, store.BOMItem{
			MaterialID: m.ID,
			Ratio:      scoring.Round2(remaining * weights[i] / total),
		})
	}
	return dropEmpty(items)
}

// fallbackScan pairs each main ratio with a single secondary filling the
// remainder. With exactly one required material only that material is
// tried; with several no single-secondary mixture can satisfy them.
func (o *Optimizer) fallbackScan(req *OptimizeRequest, space *searchSpace) []mixture {
	var partners []*store.Material
	switch len(space.include) {
	case 0:
		partners = space.pool
	case 1:
		partners = space.include
	default:
		return nil
	}

	var mixes []mixture
	for _, mainRatio := range req.mainRatios() {
		for _, m := range partners {
			items := dropEmpty([]store.BOMItem{
				{MaterialID: space.main.ID, Ratio: mainRatio},
				{MaterialID: m.ID, Ratio: scoring.Round2(100 - mainRatio)},
			})
			if !space.inBounds(items) {
				continue
			}
			sig := Signature(items)
			if space.accepted[sig] {
				continue
			}
			space.accepted[sig] = true
			mixes = append(mixes, mixture{
				items: items,
				notes: fmt.Sprintf("fallback scan: %s %.2f%% + %s", space.main.Name, mainRatio, m.Name),
			})
		}
	}
	return mixes
}

func (s *searchSpace) inBounds(items []store.BOMItem) bool {
	for _, it := range items {
		b, ok := s.bounds[it.MaterialID]
		if !ok {
			return false
		}
		if it.Ratio < b[0]-boundsEpsilon || it.Ratio > b[1]+boundsEpsilon {
			return false
		}
	}
	return true
}

func dropEmpty(items []store.BOMItem) []store.BOMItem {
	out := items[:0]
	for _, it := range items {
		if it.Ratio > 0 {
			out = append(out, it)
		}
	}
	return out
}

func compact(cands []*Candidate) []*Candidate {
	out := make([]*Candidate, 0, len(cands))
	for _, c := range cands {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
