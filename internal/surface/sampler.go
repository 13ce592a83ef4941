// Package surface generates deterministic, hash-seeded response curves for
// exploring how a material's share moves a metric. The values are a
// plotting aid and are unrelated to the stored metric models.
package surface

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

// Metrics the sampler can plot.
var Metrics = []string{"deodor_rate", "absorption", "dust_score", "clump_strength", "z_crush"}

const (
	// MaxPoints caps the size of a sampled surface.
	MaxPoints = 450

	minSteps     = 5
	maxSteps     = 101
	defaultSteps = 31
	minRMax      = 0.01
	defaultRMax  = 0.3
)

// Rule selects how the rest of a recipe makes room for a scanned ratio.
type Rule string

const (
	// RuleA keeps the other materials' relative proportions and rescales
	// them to fill 1 - r.
	RuleA Rule = "A"
	// RuleB renormalizes the whole recipe to sum 1.
	RuleB Rule = "B"
)

// ParseRule accepts "a"/"b" in any case; anything else is RuleA.
func ParseRule(s string) Rule {
	if strings.EqualFold(strings.TrimSpace(s), string(RuleB)) {
		return RuleB
	}
	return RuleA
}

// Material is the part of a material the sampler reads.
type Material struct {
	Name string
	Tags []string
}

// Catalog indexes materials by name.
type Catalog map[string]Material

func NewCatalog(mats []*store.Material) Catalog {
	c := make(Catalog, len(mats))
	for _, m := range mats {
		c[m.Name] = Material{Name: m.Name, Tags: m.FunctionTags}
	}
	return c
}

// Item is one recipe entry with its ratio as a fraction.
type Item struct {
	Material string  `json:"material"`
	Ratio    float64 `json:"ratio"`
}

// RecipeFromBOM converts percent ratios to fractions summing to 1.
func RecipeFromBOM(items []store.BOMItem) []Item {
	out := make([]Item, 0, len(items))
	var sum float64
	for _, it := range items {
		out = append(out, Item{Material: it.MaterialName, Ratio: it.Ratio / 100})
		sum += it.Ratio / 100
	}
	if sum == 0 {
		sum = 1
	}
	for i := range out {
		out[i].Ratio /= sum
	}
	return out
}

// ValidMetric reports whether metric can be sampled.
func ValidMetric(metric string) bool {
	for _, m := range Metrics {
		if m == metric {
			return true
		}
	}
	return false
}

const (
	fnvOffset32 uint32 = 2166136261
	fnvPrime32  uint32 = 16777619
)

// Hash01 maps text to [0, 1) through 32-bit FNV-1a over its UTF-16 code
// units, one unit per step, so stored sample points keep their positions
// for non-ASCII names. For ASCII it equals FNV-1a over the bytes.
func Hash01(text string) float64 {
	h := fnvOffset32
	for _, u := range utf16.Encode([]rune(text)) {
		h ^= uint32(u)
		h *= fnvPrime32
	}
	return float64(h%10000) / 10000
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func gaussian(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-(z * z) / 2)
}

func hasAny(tags []string, want ...string) bool {
	for _, t := range tags {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

func tagBias(metric string, tags []string) float64 {
	switch {
	case metric == "deodor_rate" && hasAny(tags, "除臭", "吸附"):
		return 12
	case metric == "absorption" && hasAny(tags, "吸水"):
		return 12
	case metric == "dust_score" && hasAny(tags, "抑塵", "結構"):
		return 8
	case metric == "clump_strength" && hasAny(tags, "結團", "成型"):
		return 12
	case metric == "z_crush" && hasAny(tags, "結構", "輕量"):
		return 10
	}
	return 0
}

// MaterialMetricValue is the synthetic response of material at ratio r and
// process parameter p, in 0..100.
func MaterialMetricValue(m Material, metric string, p, r float64) float64 {
	key := m.Name + "|" + metric
	h1 := Hash01(key)
	h2 := Hash01(key + "|g2")
	h3 := Hash01(key + "|p")

	base := 6 + 14*h1 + tagBias(metric, m.Tags)
	linear := (25 + 25*h2) * r
	quad := -(18 + 24*h3) * r * r
	peak1 := (8 + 12*h2) * gaussian(r, 0.12+0.25*h1, 0.05+0.04*h2)
	peak2 := (4 + 8*h3) * gaussian(r, 0.35+0.2*h2, 0.08+0.05*h1)
	pEffect := (h1-0.5)*8*(p-0.5) + (h3-0.5)*6*(p-0.5)*(p-0.5)

	return clampScore(base + linear + quad + peak1 + peak2 + pEffect)
}

// ApplyScanRule sets scan's ratio to r, adding it when absent, and
// redistributes the rest of the recipe according to rule.
func ApplyScanRule(recipe []Item, scan string, r float64, rule Rule) []Item {
	out := make([]Item, 0, len(recipe)+1)
	found := false
	var others float64
	for _, it := range recipe {
		if it.Material == scan {
			it.Ratio = r
			found = true
		} else {
			others += it.Ratio
		}
		out = append(out, it)
	}
	if !found {
		out = append(out, Item{Material: scan, Ratio: r})
	}

	if rule == RuleB {
		var sum float64
		for _, it := range out {
			sum += it.Ratio
		}
		if sum == 0 {
			sum = 1
		}
		for i := range out {
			out[i].Ratio /= sum
		}
		return out
	}

	remaining := math.Max(0, 1-r)
	for i := range out {
		switch {
		case out[i].Material == scan:
			out[i].Ratio = r
		case others > 0:
			out[i].Ratio = out[i].Ratio / others * remaining
		default:
			out[i].Ratio = 0
		}
	}
	return out
}

// Options control the sampled r axis and p.
type Options struct {
	P     float64 `json:"p"`
	RMax  float64 `json:"r_max"`
	Steps int     `json:"steps"`
}

// Clamp fills zero values with defaults and clamps steps to 5..101, rMax to
// 0.01..1 and p to 0..1.
func (o Options) Clamp() Options {
	if o.Steps == 0 {
		o.Steps = defaultSteps
	}
	o.Steps = max(minSteps, min(maxSteps, o.Steps))
	if o.RMax == 0 {
		o.RMax = defaultRMax
	}
	o.RMax = math.Max(minRMax, math.Min(1, o.RMax))
	o.P = math.Max(0, math.Min(1, o.P))
	return o
}

func axis(rMax float64, steps int) []float64 {
	x := make([]float64, steps)
	for i := range x {
		x[i] = round(rMax*float64(i)/float64(steps-1), 4)
	}
	return x
}

// Series is one XYZ trace along an axis.
type Series struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	Z []float64 `json:"z"`
}

// Curve is a sampled metric along the r axis. Mixed curves also carry the
// delta to the current ratio and the XYZ trace.
type Curve struct {
	X         []float64 `json:"x"`
	Y         []float64 `json:"y"`
	YDelta    []float64 `json:"y_delta,omitempty"`
	R0        float64   `json:"r0"`
	XYZSeries Series    `json:"xyz_series"`
}

// SingleMaterialCurve samples one material alone.
func SingleMaterialCurve(m Material, metric string, opts Options) *Curve {
	opts = opts.Clamp()
	x := axis(opts.RMax, opts.Steps)
	y := make([]float64, len(x))
	for i, r := range x {
		y[i] = round(MaterialMetricValue(m, metric, opts.P, r), 2)
	}
	return &Curve{X: x, Y: y, XYZSeries: Series{X: []float64{}, Y: []float64{}, Z: []float64{}}}
}

// RecipeMetric sums every known material's response, clamped to 0..100.
// Unknown materials are skipped.
func (c Catalog) RecipeMetric(recipe []Item, metric string, p float64) float64 {
	var total float64
	for _, it := range recipe {
		m, ok := c[it.Material]
		if !ok {
			continue
		}
		total += MaterialMetricValue(m, metric, p, it.Ratio)
	}
	return clampScore(total)
}

// MixedCurve sweeps scan's ratio through recipe. YDelta is relative to the
// grid point nearest the scanned material's current ratio.
func (c Catalog) MixedCurve(recipe []Item, metric, scan string, rule Rule, opts Options) (*Curve, error) {
	if _, ok := c[scan]; !ok {
		return nil, fmt.Errorf("scan material %q not found", scan)
	}
	opts = opts.Clamp()
	x := axis(opts.RMax, opts.Steps)

	var r0 float64
	for _, it := range recipe {
		if it.Material == scan {
			r0 = it.Ratio
			break
		}
	}

	out := &Curve{
		X:         x,
		Y:         make([]float64, len(x)),
		YDelta:    make([]float64, len(x)),
		R0:        round(r0, 4),
		XYZSeries: Series{X: make([]float64, len(x)), Y: make([]float64, len(x)), Z: make([]float64, len(x))},
	}
	nearest := 0
	for i, r := range x {
		mix := ApplyScanRule(recipe, scan, r, rule)
		out.Y[i] = round(c.RecipeMetric(mix, metric, opts.P), 2)
		out.XYZSeries.X[i] = round(c.RecipeMetric(mix, "deodor_rate", opts.P), 2)
		out.XYZSeries.Y[i] = round(c.RecipeMetric(mix, "absorption", opts.P), 2)
		out.XYZSeries.Z[i] = round(c.RecipeMetric(mix, "z_crush", opts.P), 2)
		if math.Abs(r-r0) < math.Abs(x[nearest]-r0) {
			nearest = i
		}
	}
	for i, v := range out.Y {
		out.YDelta[i] = round(v-out.Y[nearest], 2)
	}
	return out, nil
}

// Part is one material's response at a scanned point.
type Part struct {
	Material string  `json:"material"`
	Value    float64 `json:"value"`
}

type ContributionSet struct {
	RValue float64 `json:"r_value"`
	Parts  []Part  `json:"parts"`
}

// Contributions applies the scan rule at rValue and reports every known
// material's response, largest first.
func (c Catalog) Contributions(recipe []Item, metric, scan string, p, rValue float64, rule Rule) ContributionSet {
	rValue = math.Max(0, math.Min(1, rValue))
	p = math.Max(0, math.Min(1, p))
	parts := make([]Part, 0, len(recipe)+1)
	for _, it := range ApplyScanRule(recipe, scan, rValue, rule) {
		m, ok := c[it.Material]
		if !ok {
			continue
		}
		parts = append(parts, Part{Material: it.Material, Value: round(MaterialMetricValue(m, metric, p, it.Ratio), 2)})
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Value > parts[j].Value })
	return ContributionSet{RValue: rValue, Parts: parts}
}

// Grid is a sampled r × p surface; Values[i][j] is at (P[i], R[j]).
type Grid struct {
	R      []float64   `json:"r"`
	P      []float64   `json:"p"`
	Values [][]float64 `json:"values"`
}

// Surface samples one material over r and p. The p axis shrinks so the grid
// never exceeds MaxPoints.
func Surface(m Material, metric string, rMax float64, rSteps, pSteps int) *Grid {
	opts := Options{RMax: rMax, Steps: rSteps}.Clamp()
	if pSteps < 2 {
		pSteps = 2
	}
	if opts.Steps*pSteps > MaxPoints {
		pSteps = max(1, MaxPoints/opts.Steps)
	}

	g := &Grid{R: axis(opts.RMax, opts.Steps)}
	if pSteps == 1 {
		g.P = []float64{0.5}
	} else {
		g.P = axis(1, pSteps)
	}
	g.Values = make([][]float64, len(g.P))
	for i, p := range g.P {
		row := make([]float64, len(g.R))
		for j, r := range g.R {
			row[j] = round(MaterialMetricValue(m, metric, p, r), 2)
		}
		g.Values[i] = row
	}
	return g
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
