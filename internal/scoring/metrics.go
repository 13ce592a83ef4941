package scoring

import "math"

// Metric names one of the nine composite quality dimensions.
type Metric string

const (
	MetricDeodor          Metric = "deodor_rate"
	MetricAbsorption      Metric = "absorption"
	MetricCoagulation     Metric = "coagulation"
	MetricClumpStrength   Metric = "clump_strength"
	MetricDust            Metric = "dust_score"
	MetricGranuleStrength Metric = "granule_strength"
	MetricClumpQuality    Metric = "clump_quality"
	MetricDissolve        Metric = "dissolve_score"
	MetricZCrush          Metric = "z_crush"
)

// AllMetrics is the canonical metric order.
var AllMetrics = []Metric{
	MetricDeodor,
	MetricAbsorption,
	MetricCoagulation,
	MetricClumpStrength,
	MetricDust,
	MetricGranuleStrength,
	MetricClumpQuality,
	MetricDissolve,
	MetricZCrush,
}

// ParseMetric returns the metric named s.
func ParseMetric(s string) (Metric, bool) {
	for _, m := range AllMetrics {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// Metrics holds the nine composite metrics, each in [0, 1].
type Metrics struct {
	Deodor          float64 `json:"deodor_rate"`
	Absorption      float64 `json:"absorption"`
	Coagulation     float64 `json:"coagulation"`
	ClumpStrength   float64 `json:"clump_strength"`
	Dust            float64 `json:"dust_score"`
	GranuleStrength float64 `json:"granule_strength"`
	ClumpQuality    float64 `json:"clump_quality"`
	Dissolve        float64 `json:"dissolve_score"`
	ZCrush          float64 `json:"z_crush"`
}

// Get returns the value of metric m.
func (m Metrics) Get(metric Metric) float64 {
	switch metric {
	case MetricDeodor:
		return m.Deodor
	case MetricAbsorption:
		return m.Absorption
	case MetricCoagulation:
		return m.Coagulation
	case MetricClumpStrength:
		return m.ClumpStrength
	case MetricDust:
		return m.Dust
	case MetricGranuleStrength:
		return m.GranuleStrength
	case MetricClumpQuality:
		return m.ClumpQuality
	case MetricDissolve:
		return m.Dissolve
	case MetricZCrush:
		return m.ZCrush
	}
	return 0
}

// XYZ projects the metrics onto the three target axes, each in [0, 100].
// Z blends granule strength with the dust score.
func (m Metrics) XYZ() XYZ {
	return XYZ{
		X: 100 * m.Deodor,
		Y: 100 * m.Absorption,
		Z: 100 * structural(m.GranuleStrength, m.Dust),
	}
}

func structural(granule, dust float64) float64 {
	return 0.7*granule + 0.3*dust
}

// Percent returns the metrics scaled to 0..100 and rounded to 2 decimals,
// keyed by metric name.
func (m Metrics) Percent() map[string]float64 {
	out := make(map[string]float64, len(AllMetrics))
	for _, metric := range AllMetrics {
		out[string(metric)] = Round2(100 * m.Get(metric))
	}
	return out
}

// XYZ is the three-axis target score: deodorization, absorption and
// structural integrity.
type XYZ struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Round rounds each axis to 2 decimals.
func (v XYZ) Round() XYZ {
	return XYZ{X: Round2(v.X), Y: Round2(v.Y), Z: Round2(v.Z)}
}

func (v XYZ) Sub(o XYZ) XYZ {
	return XYZ{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v XYZ) Dot(o XYZ) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Distance is the Euclidean distance between v and target.
func (v XYZ) Distance(target XYZ) float64 {
	d := v.Sub(target)
	return math.Sqrt(d.Dot(d))
}

// Valid reports whether every axis is finite.
func (v XYZ) Valid() bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Evaluation is the result of scoring one mixture.
type Evaluation struct {
	Metrics Metrics
	XYZ     XYZ
}

// Report is the boundary form of an Evaluation: metrics on 0..100 and
// every value rounded to 2 decimals.
type Report struct {
	Metrics map[string]float64 `json:"metrics"`
	XYZ     XYZ                `json:"xyz"`
}

func (e Evaluation) Report() Report {
	return Report{Metrics: e.Metrics.Percent(), XYZ: e.XYZ.Round()}
}

// Round2 rounds to 2 decimal places.
func Round2(v float64) float64 { return roundTo(v, 2) }

// Round4 rounds to 4 decimal places.
func Round4(v float64) float64 { return roundTo(v, 4) }

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
