package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

// Candidate is one mixture produced by search, with its score and distance
// to the requested target.
type Candidate struct {
	Items     []store.BOMItem    `json:"items"`
	Metrics   map[string]float64 `json:"metrics"`
	XYZ       scoring.XYZ        `json:"xyz"`
	Distance  float64            `json:"distance"`
	Notes     string             `json:"notes"`
	Signature string             `json:"signature"`
	Pareto    bool               `json:"pareto,omitempty"`

	// rawXYZ keeps full precision for Pareto ranking.
	rawXYZ scoring.XYZ
}

// Signature is the canonical identity of a mixture: sorted
// "material:ratio" pairs with ratios at 2 decimals, joined by "|".
func Signature(items []store.BOMItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s:%.2f", it.MaterialID, it.Ratio))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// mixture is an unevaluated candidate.
type mixture struct {
	items []store.BOMItem
	notes string
}

// evaluateAll scores mixtures concurrently against table. The result is
// indexed like mixes; a mixture that fails to evaluate is left nil.
func evaluateAll(ctx context.Context, table *scoring.ModelTable, mixes []mixture, target scoring.XYZ, p float64, workers int, logger *slog.Logger) ([]*Candidate, error) {
	out := make([]*Candidate, len(mixes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := range mixes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ev, err := table.Evaluate(mixes[i].items, p)
			if err != nil {
				logger.Debug("candidate evaluation failed, skipping", "notes", mixes[i].notes, "error", err)
				return nil
			}
			out[i] = newCandidate(mixes[i], ev, target, table)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func newCandidate(m mixture, ev scoring.Evaluation, target scoring.XYZ, table *scoring.ModelTable) *Candidate {
	items := make([]store.BOMItem, len(m.items))
	for i, it := range m.items {
		if mat := table.Material(it.MaterialID); mat != nil {
			it.MaterialName = mat.Name
		}
		items[i] = it
	}
	report := ev.Report()
	return &Candidate{
		Items:     items,
		Metrics:   report.Metrics,
		XYZ:       report.XYZ,
		Distance:  scoring.Round4(ev.XYZ.Distance(target)),
		Notes:     m.notes,
		Signature: Signature(m.items),
		rawXYZ:    ev.XYZ,
	}
}

// rank stable-sorts candidates by distance, so ties keep first-seen order,
// and truncates to topN.
func rank(cands []*Candidate, topN int) []*Candidate {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })
	if topN > 0 && len(cands) > topN {
		cands = cands[:topN]
	}
	return cands
}

// markPareto flags candidates whose per-axis gaps to target are not
// dominated by another candidate in the set.
func markPareto(cands []*Candidate, target scoring.XYZ) {
	gaps := make([]scoring.Gap, len(cands))
	for i, c := range cands {
		gaps[i] = c.rawXYZ.GapTo(target)
	}
	for _, i := range scoring.ParetoFront(gaps) {
		cands[i].Pareto = true
	}
}

// normalizeTo100 drops non-positive ratios, merges duplicates and rescales
// so ratios sum to 100.
func normalizeTo100(items []store.BOMItem) ([]store.BOMItem, error) {
	shares, err := scoring.NormalizeItems(items)
	if err != nil {
		return nil, err
	}
	out := make([]store.BOMItem, len(shares))
	for i, s := range shares {
		out[i] = store.BOMItem{MaterialID: s.MaterialID, Ratio: 100 * s.Fraction}
	}
	return out, nil
}

func containsID(items []store.BOMItem, id uuid.UUID) bool {
	for _, it := range items {
		if it.MaterialID == id {
			return true
		}
	}
	return false
}

func roundItems(items []store.BOMItem) []store.BOMItem {
	out := make([]store.BOMItem, len(items))
	for i, it := range items {
		it.Ratio = scoring.Round2(it.Ratio)
		out[i] = it
	}
	return out
}
