package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

const (
	stepPercent         = 1.0
	defaultRepairTopN   = 5
	defaultRepairWorker = 8
)

// RepairConfig bounds the swap-repair analysis.
type RepairConfig struct {
	SuggestionPool int `yaml:"suggestion_pool"`
	TopSuggestions int `yaml:"top_suggestions"`
	MaxAddPercent  int `yaml:"max_add_percent"`
	Workers        int `yaml:"workers"`
}

func DefaultRepairConfig() RepairConfig {
	return RepairConfig{
		SuggestionPool: 20,
		TopSuggestions: 5,
		MaxAddPercent:  8,
		Workers:        defaultRepairWorker,
	}
}

type SwapRepairRequest struct {
	Base   []store.BOMItem `json:"base"`
	FromID uuid.UUID       `json:"from_material_id"`
	ToID   uuid.UUID       `json:"to_material_id"`
	Target scoring.XYZ     `json:"target"`
	P      float64         `json:"p"`
	TopN   int             `json:"top_n"`
}

// AfterSwap is the mixture right after the substitution.
type AfterSwap struct {
	Report   scoring.Report  `json:"report"`
	Items    []store.BOMItem `json:"items"`
	DeltaXYZ scoring.XYZ     `json:"delta_xyz"`
}

// Suggestion is a material ranked by how well a 1% addition moves the
// post-swap score toward the target.
type Suggestion struct {
	MaterialID                  uuid.UUID   `json:"material_id"`
	Material                    string      `json:"material"`
	Action                      string      `json:"action"`
	Reason                      string      `json:"reason"`
	ExpectedDeltaXYZPer1Percent scoring.XYZ `json:"expected_delta_xyz_per_1pct"`
	Score                       float64     `json:"score"`
}

type SwapRepairResult struct {
	Before             scoring.Report `json:"before"`
	AfterSwap          AfterSwap      `json:"after_swap"`
	Gap                scoring.XYZ    `json:"gap"`
	Suggestions        []Suggestion   `json:"suggestions"`
	RepairedCandidates []*Candidate   `json:"repaired_candidates"`
}

// SwapRepairer analyzes substituting one ingredient and searches small
// additions that close the resulting gap to target.
type SwapRepairer struct {
	engine *scoring.Engine
	store  store.ModelStore
	cfg    RepairConfig
	logger *slog.Logger
}

func NewSwapRepairer(engine *scoring.Engine, ms store.ModelStore, cfg RepairConfig, logger *slog.Logger) *SwapRepairer {
	return &SwapRepairer{engine: engine, store: ms, cfg: cfg, logger: logger}
}

// SwapRepair replaces FromID with ToID at FromID's ratio, then ranks
// additions by the dot product of their 1% effect with the remaining gap
// and sweeps 1..MaxAddPercent of the best ones. Every intermediate mixture
// is renormalized to sum 100.
func (s *SwapRepairer) SwapRepair(ctx context.Context, req SwapRepairRequest) (*SwapRepairResult, error) {
	start := time.Now()
	defer func() { searchDuration.WithLabelValues("swap_repair").Observe(time.Since(start).Seconds()) }()

	if req.TopN <= 0 {
		req.TopN = defaultRepairTopN
	}
	if err := scoring.ValidateP(req.P); err != nil {
		return nil, err
	}
	if err := scoring.ValidateTarget(req.Target); err != nil {
		return nil, err
	}
	if req.ToID == uuid.Nil {
		return nil, scoring.Inputf("to_material_id", "is required")
	}
	base, err := normalizeTo100(req.Base)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 {
		return nil, scoring.Inputf("base", "mixture is empty")
	}

	var fromRatio float64
	found := false
	for _, it := range base {
		if it.MaterialID == req.FromID {
			fromRatio, found = it.Ratio, true
		}
	}
	if !found {
		return nil, &ReferenceError{MaterialID: req.FromID}
	}

	swapped := make([]store.BOMItem, 0, len(base))
	for _, it := range base {
		if it.MaterialID != req.FromID && it.MaterialID != req.ToID {
			swapped = append(swapped, it)
		}
	}
	swapped = append(swapped, store.BOMItem{MaterialID: req.ToID, Ratio: fromRatio})
	if swapped, err = normalizeTo100(swapped); err != nil {
		return nil, err
	}

	present := make([]uuid.UUID, 0, len(base)+1)
	for _, it := range base {
		present = append(present, it.MaterialID)
	}
	present = append(present, req.ToID)

	pool, err := s.store.ListMaterials(ctx, store.MaterialFilter{Exclude: present, Limit: s.cfg.SuggestionPool})
	if err != nil {
		return nil, fmt.Errorf("list suggestion pool: %w", err)
	}
	ids := append([]uuid.UUID(nil), present...)
	for _, m := range pool {
		ids = append(ids, m.ID)
	}
	table, err := s.engine.LoadModels(ctx, ids)
	if err != nil {
		return nil, err
	}

	before, err := table.Evaluate(base, req.P)
	if err != nil {
		return nil, err
	}
	after, err := table.Evaluate(swapped, req.P)
	if err != nil {
		return nil, err
	}
	gap := req.Target.Sub(after.XYZ)

	suggestions, err := s.suggest(ctx, table, swapped, after.XYZ, gap, pool, req.P)
	if err != nil {
		return nil, err
	}
	repaired, err := s.repair(ctx, table, swapped, suggestions, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("swap repair complete",
		"from", req.FromID, "to", req.ToID, "suggestions", len(suggestions), "repaired", len(repaired))

	return &SwapRepairResult{
		Before: before.Report(),
		AfterSwap: AfterSwap{
			Report:   after.Report(),
			Items:    named(table, roundItems(swapped)),
			DeltaXYZ: after.XYZ.Sub(before.XYZ).Round(),
		},
		Gap:                gap.Round(),
		Suggestions:        suggestions,
		RepairedCandidates: repaired,
	}, nil
}

// suggest tries each pool material: shrink the swapped mixture to 99%
// and add 1% of the candidate.
func (s *SwapRepairer) suggest(ctx context.Context, table *scoring.ModelTable, swapped []store.BOMItem, afterXYZ, gap scoring.XYZ, pool []*store.Material, p float64) ([]Suggestion, error) {
	trials := make([]mixture, 0, len(pool))
	for _, m := range pool {
		items := scaleItems(swapped, (100-stepPercent)/100)
		items = append(items, store.BOMItem{MaterialID: m.ID, Ratio: stepPercent})
		norm, err := normalizeTo100(items)
		if err != nil {
			return nil, err
		}
		trials = append(trials, mixture{items: norm, notes: m.Name})
	}

	cands, err := evaluateAll(ctx, table, trials, scoring.XYZ{}, p, s.cfg.Workers, s.logger)
	if err != nil {
		return nil, err
	}

	var out []Suggestion
	for i, c := range cands {
		if c == nil {
			continue
		}
		delta := c.rawXYZ.Sub(afterXYZ)
		score := gap.Dot(delta)
		reason := fmt.Sprintf("adding 1%% of %s moves XYZ toward the remaining gap", pool[i].Name)
		if score <= 0 {
			reason = fmt.Sprintf("adding 1%% of %s does not close the remaining gap", pool[i].Name)
		}
		out = append(out, Suggestion{
			MaterialID:                  pool[i].ID,
			Material:                    pool[i].Name,
			Action:                      "increase",
			Reason:                      reason,
			ExpectedDeltaXYZPer1Percent: delta.Round(),
			Score:                       scoring.Round4(score),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > s.cfg.TopSuggestions {
		out = out[:s.cfg.TopSuggestions]
	}
	return out, nil
}

// repair sweeps 1..MaxAddPercent of each suggested material.
func (s *SwapRepairer) repair(ctx context.Context, table *scoring.ModelTable, swapped []store.BOMItem, suggestions []Suggestion, req SwapRepairRequest) ([]*Candidate, error) {
	var mixes []mixture
	seen := make(map[string]bool)
	for _, sug := range suggestions {
		for add := 1; add <= s.cfg.MaxAddPercent; add++ {
			items := scaleItems(swapped, float64(100-add)/100)
			items = append(items, store.BOMItem{MaterialID: sug.MaterialID, Ratio: float64(add)})
			norm, err := normalizeTo100(items)
			if err != nil {
				return nil, err
			}
			norm = roundItems(norm)
			sig := Signature(norm)
			if seen[sig] {
				continue
			}
			seen[sig] = true
			mixes = append(mixes, mixture{
				items: norm,
				notes: fmt.Sprintf("swap repair: add %d%% %s", add, sug.Material),
			})
		}
	}

	cands, err := evaluateAll(ctx, table, mixes, req.Target, req.P, s.cfg.Workers, s.logger)
	if err != nil {
		return nil, err
	}
	return rank(compact(cands), req.TopN), nil
}

func scaleItems(items []store.BOMItem, f float64) []store.BOMItem {
	out := make([]store.BOMItem, len(items), len(items)+1)
	for i, it := range items {
		it.Ratio *= f
		out[i] = it
	}
	return out
}

func named(table *scoring.ModelTable, items []store.BOMItem) []store.BOMItem {
	for i := range items {
		if m := table.Material(items[i].MaterialID); m != nil {
			items[i].MaterialName = m.Name
		}
	}
	return items
}
