package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func TestCombineFormulas(t *testing.T) {
	c := Contributions{
		MetricDeodor:          {0.5, 0.5},
		MetricAbsorption:      {0.4, 0.3},
		MetricCoagulation:     {0.3, 0.4},
		MetricClumpStrength:   {0.2, 0.1},
		MetricDust:            {0.2, 0.5},
		MetricGranuleStrength: {0.6, 0.6},
		MetricClumpQuality:    {0.9, 0.9},
		MetricDissolve:        {0.1, 0.1},
		MetricZCrush:          {0.2, 0.1},
	}
	m := Combine(c, DefaultGateParams())

	coag := sigmoid(8 * (0.7 - 0.5))
	clump := coag * sigmoid(8*(0.3-0.5))
	dust := 0.8 * 0.5
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"deodor noisy-or", m.Deodor, 0.75},
		{"absorption sum", m.Absorption, 0.7},
		{"coagulation gate", m.Coagulation, coag},
		{"clump gated by coagulation", m.ClumpStrength, clump},
		{"dust inverted noisy-or", m.Dust, dust},
		{"granule saturates", m.GranuleStrength, 1},
		{"clump quality", m.ClumpQuality, 1 - (0+math.Abs(coag-0.7)+math.Abs(clump-0.7))/3},
		{"dissolve gate", m.Dissolve, sigmoid(8 * (0.2 - 0.5))},
		{"z crush", m.ZCrush, (0.3 + 0.7*1 + 0.3*dust) / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-12 {
				t.Errorf("got %f, want %f", tt.got, tt.want)
			}
		})
	}

	xyz := m.XYZ()
	if math.Abs(xyz.X-75) > 1e-9 || math.Abs(xyz.Y-70) > 1e-9 {
		t.Errorf("unexpected xyz: %+v", xyz)
	}
	if math.Abs(xyz.Z-100*(0.7+0.3*dust)) > 1e-9 {
		t.Errorf("unexpected z: %f", xyz.Z)
	}
}

func TestCombineEmpty(t *testing.T) {
	if m := Combine(Contributions{}, DefaultGateParams()); m != (Metrics{}) {
		t.Errorf("expected zero metrics, got %+v", m)
	}
	if m := Combine(nil, DefaultGateParams()); m != (Metrics{}) {
		t.Errorf("expected zero metrics for nil, got %+v", m)
	}
}

// Clump quality rewards closeness to the 0.7 midpoint, so more absorption
// past the midpoint lowers it.
func TestClumpQualityIsNotMonotone(t *testing.T) {
	quality := func(absorption float64) float64 {
		return Combine(Contributions{
			MetricAbsorption:    {absorption},
			MetricCoagulation:   {0.6},
			MetricClumpStrength: {0.6},
		}, DefaultGateParams()).ClumpQuality
	}

	low, mid, high := quality(0.3), quality(0.7), quality(1.0)
	if !(mid > low && mid > high) {
		t.Errorf("expected a peak at the midpoint: low=%f mid=%f high=%f", low, mid, high)
	}
}

func TestDefaultParams(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		tags   []string
		want   Params
	}{
		{"deodor zh", MetricDeodor, []string{"除臭"}, Params{0.9, 7.5, 0.2}},
		{"deodor en mixed case", MetricDeodor, []string{"Deodorizing"}, Params{0.9, 7.5, 0.2}},
		{"adsorbent", MetricDeodor, []string{"adsorbent"}, Params{0.9, 7.5, 0.2}},
		{"absorption", MetricAbsorption, []string{"吸水"}, Params{0.9, 7.2, 0.2}},
		{"coagulation", MetricCoagulation, []string{"凝結"}, Params{0.85, 6.5, 0.22}},
		{"clump strength", MetricClumpStrength, []string{"結團"}, Params{0.85, 6.5, 0.22}},
		{"z crush", MetricZCrush, []string{"強度"}, Params{0.88, 5.8, 0.2}},
		{"granule", MetricGranuleStrength, []string{"結構"}, Params{0.88, 5.8, 0.2}},
		{"dust", MetricDust, []string{"低粉塵"}, Params{0.86, 6.2, 0.18}},
		{"tag for another metric", MetricAbsorption, []string{"除臭"}, ConservativeParams},
		{"untagged", MetricDissolve, nil, ConservativeParams},
		{"clump quality has no rule", MetricClumpQuality, []string{"結團"}, ConservativeParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultParams(tt.metric, tt.tags); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaultModelShape(t *testing.T) {
	m := &store.Material{ID: uuid.New(), FunctionTags: []string{"吸附"}}
	model := DefaultModel(m, MetricDeodor)
	if model.Expression != store.DefaultExpression || model.Version != "v1" {
		t.Errorf("unexpected model: %+v", model)
	}
	if len(model.Variables) != 2 || model.Variables[0] != "r" || model.Variables[1] != "p" {
		t.Errorf("unexpected variables: %v", model.Variables)
	}
	if model.Params["k"] != 7.5 || model.Notes != store.DefaultModelNote {
		t.Errorf("unexpected params/notes: %v %q", model.Params, model.Notes)
	}
}

func TestNormalizeItems(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	shares, err := NormalizeItems([]store.BOMItem{
		{MaterialID: a, Ratio: 30},
		{MaterialID: b, Ratio: 0},
		{MaterialID: a, Ratio: 30},
		{MaterialID: b, Ratio: 40},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(shares))
	}
	if shares[0].MaterialID != a || math.Abs(shares[0].Fraction-0.6) > 1e-12 {
		t.Errorf("unexpected first share: %+v", shares[0])
	}
	if math.Abs(shares[1].Fraction-0.4) > 1e-12 {
		t.Errorf("unexpected second share: %+v", shares[1])
	}

	_, err = NormalizeItems([]store.BOMItem{{MaterialID: a, Ratio: math.Inf(1)}})
	var inErr *InputError
	if !errors.As(err, &inErr) {
		t.Errorf("expected InputError for infinite ratio, got %v", err)
	}
}

func TestValidateTarget(t *testing.T) {
	if err := ValidateTarget(XYZ{X: 50, Y: 0, Z: 100}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateTarget(XYZ{X: 50, Y: 101, Z: 0}); err == nil {
		t.Error("expected error for y > 100")
	}
	if err := ValidateTarget(XYZ{X: math.NaN()}); err == nil {
		t.Error("expected error for NaN")
	}
}

func TestGateParamsValidate(t *testing.T) {
	if err := DefaultGateParams().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	g := DefaultGateParams()
	g.CoagSteepness = 0
	if err := g.Validate(); err == nil {
		t.Error("expected error for zero steepness")
	}
	g = DefaultGateParams()
	g.IdealMidpoint = 1.2
	if err := g.Validate(); err == nil {
		t.Error("expected error for midpoint > 1")
	}
}

func TestXYZDistanceAndRound(t *testing.T) {
	a := XYZ{X: 3, Y: 4, Z: 0}
	if d := a.Distance(XYZ{}); d != 5 {
		t.Errorf("expected 5, got %f", d)
	}
	r := XYZ{X: 1.234, Y: 5.678, Z: 9.995}.Round()
	if r.X != 1.23 || r.Y != 5.68 {
		t.Errorf("unexpected rounding: %+v", r)
	}
	if Round4(0.123456) != 0.1235 {
		t.Errorf("unexpected Round4: %f", Round4(0.123456))
	}
}

func TestParetoFront(t *testing.T) {
	gaps := []Gap{
		{X: 1, Y: 5, Z: 5}, // front: best X
		{X: 5, Y: 1, Z: 5}, // front: best Y
		{X: 2, Y: 6, Z: 6}, // dominated by 0
		{X: 1, Y: 5, Z: 5}, // equal to 0, not dominated
		{X: 5, Y: 5, Z: 1}, // front: best Z
	}
	front := ParetoFront(gaps)
	want := []int{0, 1, 3, 4}
	if len(front) != len(want) {
		t.Fatalf("expected %v, got %v", want, front)
	}
	for i := range want {
		if front[i] != want[i] {
			t.Errorf("expected %v, got %v", want, front)
		}
	}
	if got := ParetoFront([]Gap{{X: 1}}); len(got) != 1 {
		t.Errorf("single gap must be on the front, got %v", got)
	}
	if got := ParetoFront(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestParseMetric(t *testing.T) {
	for _, m := range AllMetrics {
		if got, ok := ParseMetric(string(m)); !ok || got != m {
			t.Errorf("ParseMetric(%s) failed", m)
		}
	}
	if _, ok := ParseMetric("smell"); ok {
		t.Error("unknown metric parsed")
	}
}
