package scoring

import (
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

// Params are the (A, k, b) coefficients of the canonical default form.
type Params struct {
	A float64 `json:"A"`
	K float64 `json:"k"`
	B float64 `json:"b"`
}

func (p Params) Map() map[string]float64 {
	return map[string]float64{"A": p.A, "k": p.K, "b": p.B}
}

// ConservativeParams is used when no tag matches the metric's keywords.
var ConservativeParams = Params{A: 0.5, K: 3.5, B: 0.3}

type defaultRule struct {
	metrics  []Metric
	keywords []string
	params   Params
}

// defaultRules is evaluated top to bottom; the first rule whose metric list
// contains the metric and whose keywords intersect the tags wins.
var defaultRules = []defaultRule{
	{
		metrics:  []Metric{MetricDeodor},
		keywords: []string{"除臭", "吸附", "deodoriz", "adsorb"},
		params:   Params{A: 0.9, K: 7.5, B: 0.2},
	},
	{
		metrics:  []Metric{MetricAbsorption},
		keywords: []string{"吸水", "absorbent", "water-absorbing"},
		params:   Params{A: 0.9, K: 7.2, B: 0.2},
	},
	{
		metrics:  []Metric{MetricCoagulation, MetricClumpStrength},
		keywords: []string{"凝結", "結團", "clumping", "binding"},
		params:   Params{A: 0.85, K: 6.5, B: 0.22},
	},
	{
		metrics:  []Metric{MetricZCrush, MetricGranuleStrength},
		keywords: []string{"強度", "結構", "strength", "structural"},
		params:   Params{A: 0.88, K: 5.8, B: 0.2},
	},
	{
		metrics:  []Metric{MetricDust},
		keywords: []string{"抑塵", "低粉塵", "dust-suppress", "low-dust"},
		params:   Params{A: 0.86, K: 6.2, B: 0.18},
	},
}

// DefaultParams picks the default-model coefficients for metric from the
// material's function tags. Keyword matching is a case-insensitive
// substring test.
func DefaultParams(metric Metric, tags []string) Params {
	for _, rule := range defaultRules {
		if !containsMetric(rule.metrics, metric) {
			continue
		}
		if tagsMatch(tags, rule.keywords) {
			return rule.params
		}
	}
	return ConservativeParams
}

// DefaultModel builds the default metric model for a material. The result
// depends only on (metric, tags) so concurrent synthesis is idempotent.
func DefaultModel(m *store.Material, metric Metric) *store.MetricModel {
	return &store.MetricModel{
		ID:         uuid.New(),
		MaterialID: m.ID,
		Metric:     string(metric),
		Expression: store.DefaultExpression,
		Params:     DefaultParams(metric, m.FunctionTags).Map(),
		Variables:  []string{"r", "p"},
		Version:    store.DefaultModelVersion,
		Active:     true,
		Notes:      store.DefaultModelNote,
	}
}

func containsMetric(ms []Metric, m Metric) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func tagsMatch(tags, keywords []string) bool {
	for _, t := range tags {
		lt := strings.ToLower(t)
		for _, kw := range keywords {
			if strings.Contains(lt, kw) {
				return true
			}
		}
	}
	return false
}
