package surface

import (
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

func testCatalog() Catalog {
	return NewCatalog([]*store.Material{
		{Name: "ZeoliteX", FunctionTags: []string{"除臭", "吸附"}},
		{Name: "Bentonite", FunctionTags: []string{"凝結", "結團"}},
		{Name: "Starch", FunctionTags: []string{"吸水"}},
	})
}

func TestHash01(t *testing.T) {
	// ASCII hashes like FNV-1a over bytes
	f := fnv.New32a()
	f.Write([]byte("Bentonite|absorption"))
	assert.Equal(t, float64(f.Sum32()%10000)/10000, Hash01("Bentonite|absorption"))
	assert.Equal(t, 0.6261, Hash01(""))

	// non-ASCII hashes UTF-16 code units, surrogate pairs included
	cases := map[string]float64{
		"Bentonite|absorption": 0.9946,
		"除臭":                   0.5146,
		"除臭|absorption":        0.9851,
		"😀":                    0.6472,
	}
	for text, want := range cases {
		assert.Equal(t, want, Hash01(text), text)
	}

	for _, s := range []string{"", "a", "ZeoliteX|deodor_rate|g2", "除臭"} {
		v := Hash01(s)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
		assert.Equal(t, v, Hash01(s), "must be stable")
	}
}

func TestMaterialMetricValue(t *testing.T) {
	c := testCatalog()
	z := c["ZeoliteX"]
	for _, metric := range Metrics {
		for _, p := range []float64{0, 0.5, 1} {
			for _, r := range []float64{0, 0.1, 0.5, 1} {
				v := MaterialMetricValue(z, metric, p, r)
				assert.True(t, v >= 0 && v <= 100, "%s p=%v r=%v -> %v", metric, p, r, v)
				assert.Equal(t, v, MaterialMetricValue(z, metric, p, r))
			}
		}
	}

	// tag bias: identical name hash, tags differ
	tagged := Material{Name: "Same", Tags: []string{"除臭"}}
	plain := Material{Name: "Same"}
	assert.InDelta(t, 12, MaterialMetricValue(tagged, "deodor_rate", 0.5, 0)-MaterialMetricValue(plain, "deodor_rate", 0.5, 0), 1e-9)
	assert.Equal(t, MaterialMetricValue(tagged, "absorption", 0.5, 0.2), MaterialMetricValue(plain, "absorption", 0.5, 0.2))
}

func TestApplyScanRule(t *testing.T) {
	recipe := []Item{{"Bentonite", 0.6}, {"ZeoliteX", 0.3}, {"Starch", 0.1}}

	t.Run("rule A keeps proportions of the rest", func(t *testing.T) {
		out := ApplyScanRule(recipe, "ZeoliteX", 0.5, RuleA)
		require.Len(t, out, 3)
		assert.InDelta(t, 0.5*6/7, out[0].Ratio, 1e-9)
		assert.Equal(t, 0.5, out[1].Ratio)
		assert.InDelta(t, 0.5/7, out[2].Ratio, 1e-9)
		assert.InDelta(t, 1, sum(out), 1e-9)
	})

	t.Run("rule A adds a missing material", func(t *testing.T) {
		out := ApplyScanRule(recipe[:1], "Starch", 0.2, RuleA)
		require.Len(t, out, 2)
		assert.InDelta(t, 0.8, out[0].Ratio, 1e-9)
		assert.Equal(t, Item{"Starch", 0.2}, out[1])
	})

	t.Run("rule A with nothing else", func(t *testing.T) {
		out := ApplyScanRule([]Item{{"Starch", 1}}, "Starch", 0.3, RuleA)
		assert.Equal(t, []Item{{"Starch", 0.3}}, out)
	})

	t.Run("rule B renormalizes everything", func(t *testing.T) {
		out := ApplyScanRule(recipe, "ZeoliteX", 0.5, RuleB)
		assert.InDelta(t, 0.6/1.2, out[0].Ratio, 1e-9)
		assert.InDelta(t, 0.5/1.2, out[1].Ratio, 1e-9)
		assert.InDelta(t, 1, sum(out), 1e-9)
	})

	t.Run("input untouched", func(t *testing.T) {
		assert.Equal(t, 0.3, recipe[1].Ratio)
	})

	assert.Equal(t, RuleB, ParseRule("b"))
	assert.Equal(t, RuleA, ParseRule("x"))
	assert.Equal(t, RuleA, ParseRule(""))
}

func sum(items []Item) float64 {
	var s float64
	for _, it := range items {
		s += it.Ratio
	}
	return s
}

func TestOptionsClamp(t *testing.T) {
	o := Options{}.Clamp()
	assert.Equal(t, Options{P: 0, RMax: 0.3, Steps: 31}, o)

	o = Options{P: 3, RMax: 5, Steps: 1000}.Clamp()
	assert.Equal(t, Options{P: 1, RMax: 1, Steps: 101}, o)

	o = Options{P: -1, RMax: 0.001, Steps: 2}.Clamp()
	assert.Equal(t, Options{P: 0, RMax: 0.01, Steps: 5}, o)
}

func TestSingleMaterialCurve(t *testing.T) {
	c := testCatalog()
	curve := SingleMaterialCurve(c["Starch"], "absorption", Options{P: 0.5, RMax: 0.3, Steps: 31})
	require.Len(t, curve.X, 31)
	require.Len(t, curve.Y, 31)
	assert.Equal(t, 0.0, curve.X[0])
	assert.Equal(t, 0.3, curve.X[30])
	assert.Equal(t, 0.01, curve.X[1])
	assert.Empty(t, curve.XYZSeries.X)
	assert.Nil(t, curve.YDelta)
}

func TestMixedCurve(t *testing.T) {
	c := testCatalog()
	recipe := []Item{{"Bentonite", 0.7}, {"ZeoliteX", 0.3}}

	curve, err := c.MixedCurve(recipe, "deodor_rate", "ZeoliteX", RuleA, Options{P: 0.5, RMax: 0.5, Steps: 11})
	require.NoError(t, err)
	require.Len(t, curve.Y, 11)
	assert.Equal(t, 0.3, curve.R0)

	// grid point 0.3 is index 6
	assert.Equal(t, 0.0, curve.YDelta[6])
	for i := range curve.Y {
		assert.InDelta(t, curve.Y[i]-curve.Y[6], curve.YDelta[i], 0.011)
		assert.Equal(t, curve.Y[i], curve.XYZSeries.X[i], "deodor curve is the X trace")
	}

	_, err = c.MixedCurve(recipe, "deodor_rate", "Nope", RuleA, Options{})
	assert.Error(t, err)
}

func TestContributions(t *testing.T) {
	c := testCatalog()
	recipe := []Item{{"Bentonite", 0.5}, {"ZeoliteX", 0.3}, {"Unknown", 0.2}}
	set := c.Contributions(recipe, "deodor_rate", "Starch", 0.5, 0.1, RuleA)

	assert.Equal(t, 0.1, set.RValue)
	require.Len(t, set.Parts, 3, "unknown materials are skipped")
	for i := 1; i < len(set.Parts); i++ {
		assert.GreaterOrEqual(t, set.Parts[i-1].Value, set.Parts[i].Value)
	}
}

func TestSurfaceCap(t *testing.T) {
	c := testCatalog()
	tests := []struct {
		name           string
		rSteps, pSteps int
		wantR, wantP   int
	}{
		{"small", 11, 5, 11, 5},
		{"exactly cap", 15, 30, 15, 30},
		{"shrinks p", 31, 31, 31, 14},
		{"widest r", 200, 50, 101, 4},
		{"p floor", 11, 0, 11, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Surface(c["Bentonite"], "clump_strength", 0.3, tt.rSteps, tt.pSteps)
			assert.Len(t, g.R, tt.wantR)
			assert.Len(t, g.P, tt.wantP)
			assert.LessOrEqual(t, len(g.R)*len(g.P), MaxPoints)
			require.Len(t, g.Values, len(g.P))
			for _, row := range g.Values {
				assert.Len(t, row, len(g.R))
			}
		})
	}
}

func TestRecipeFromBOM(t *testing.T) {
	items := RecipeFromBOM([]store.BOMItem{
		{MaterialName: "Bentonite", Ratio: 60},
		{MaterialName: "ZeoliteX", Ratio: 20},
	})
	assert.InDelta(t, 0.75, items[0].Ratio, 1e-9)
	assert.InDelta(t, 0.25, items[1].Ratio, 1e-9)
	assert.Empty(t, RecipeFromBOM(nil))
}
