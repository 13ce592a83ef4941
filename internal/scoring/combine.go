package scoring

import (
	"math"

	"github.com/MikeSquared-Agency/Formulary/internal/expr"
)

// Contributions holds, per metric, one 0..1 model value for every material
// in a mixture.
type Contributions map[Metric][]float64

// Combine folds per-material contributions into the composite metrics.
// A mixture with no materials combines to all zeros.
func Combine(c Contributions, g GateParams) Metrics {
	if c.empty() {
		return Metrics{}
	}

	deodor := noisyOr(c[MetricDeodor])
	absorption := expr.Sat(sum(c[MetricAbsorption]))
	coag := gate(sum(c[MetricCoagulation]), g.CoagSteepness, g.CoagThreshold)
	clump := coag * gate(sum(c[MetricClumpStrength]), g.ClumpSteepness, g.ClumpThreshold)
	// dust contributions are risks; the score is the complement of their noisy-OR
	dust := expr.Sat(1 - noisyOr(c[MetricDust]))
	granule := expr.Sat(sum(c[MetricGranuleStrength]))
	quality := 1 - (math.Abs(absorption-g.IdealMidpoint)+
		math.Abs(coag-g.IdealMidpoint)+
		math.Abs(clump-g.IdealMidpoint))/3
	dissolve := gate(sum(c[MetricDissolve]), g.DissolveSteepness, g.DissolveThreshold)
	zCrush := expr.Sat((sum(c[MetricZCrush]) + structural(granule, dust)) / 2)

	return Metrics{
		Deodor:          deodor,
		Absorption:      absorption,
		Coagulation:     coag,
		ClumpStrength:   clump,
		Dust:            dust,
		GranuleStrength: granule,
		ClumpQuality:    expr.Sat(quality),
		Dissolve:        dissolve,
		ZCrush:          zCrush,
	}
}

func (c Contributions) empty() bool {
	for _, v := range c {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}

// noisyOr treats each value as an independent probability: 1 - prod(1 - v).
func noisyOr(vs []float64) float64 {
	keep := 1.0
	for _, v := range vs {
		keep *= 1 - expr.Sat(v)
	}
	return expr.Sat(1 - keep)
}

func gate(x, steepness, threshold float64) float64 {
	return expr.Sigmoid(steepness * (x - threshold))
}
