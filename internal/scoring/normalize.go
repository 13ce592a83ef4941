package scoring

import (
	"math"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

// Share is one material's normalized fraction of a mixture.
type Share struct {
	MaterialID uuid.UUID
	Fraction   float64
}

// NormalizeItems drops non-positive ratios, merges duplicate materials and
// rescales the rest to sum to 1, preserving first-seen order. A NaN or
// infinite ratio is an InputError. An empty result is not an error.
func NormalizeItems(items []store.BOMItem) ([]Share, error) {
	index := make(map[uuid.UUID]int, len(items))
	var shares []Share
	var total float64
	for _, it := range items {
		if math.IsNaN(it.Ratio) || math.IsInf(it.Ratio, 0) {
			return nil, Inputf("ratio", "material %s has non-finite ratio", it.MaterialID)
		}
		if it.Ratio <= 0 {
			continue
		}
		total += it.Ratio
		if i, ok := index[it.MaterialID]; ok {
			shares[i].Fraction += it.Ratio
			continue
		}
		index[it.MaterialID] = len(shares)
		shares = append(shares, Share{MaterialID: it.MaterialID, Fraction: it.Ratio})
	}
	for i := range shares {
		shares[i].Fraction /= total
	}
	return shares, nil
}

// ValidateP checks the process parameter lies in [0, 1].
func ValidateP(p float64) error {
	if !(p >= 0 && p <= 1) {
		return Inputf("p", "must be in [0, 1], got %v", p)
	}
	return nil
}

// ValidateTarget checks every target axis is finite and within [0, 100].
func ValidateTarget(t XYZ) error {
	axes := []struct {
		name string
		v    float64
	}{{"x", t.X}, {"y", t.Y}, {"z", t.Z}}
	for _, a := range axes {
		if !(a.v >= 0 && a.v <= 100) {
			return Inputf("target."+a.name, "must be in [0, 100], got %v", a.v)
		}
	}
	return nil
}
