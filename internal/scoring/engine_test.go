package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store     *store.MemoryStore
	engine    *Engine
	zeolite   *store.Material
	bentonite *store.Material
	starch    *store.Material
}

func newFixture() *fixture {
	s := store.NewMemoryStore()
	return &fixture{
		store:     s,
		engine:    NewEngine(s, DefaultGateParams(), discardLogger()),
		zeolite:   s.AddMaterial(&store.Material{Name: "ZeoliteX", FunctionTags: []string{"除臭", "吸附"}}),
		bentonite: s.AddMaterial(&store.Material{Name: "Bentonite", FunctionTags: []string{"凝結", "結團"}}),
		starch:    s.AddMaterial(&store.Material{Name: "Starch", FunctionTags: []string{"吸水", "結構"}}),
	}
}

func items(pairs ...interface{}) []store.BOMItem {
	var out []store.BOMItem
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, store.BOMItem{
			MaterialID: pairs[i].(*store.Material).ID,
			Ratio:      pairs[i+1].(float64),
		})
	}
	return out
}

func TestEvaluateProportionInvariant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.engine.EvaluateMixture(ctx, items(f.zeolite, 60.0, f.bentonite, 40.0), 0.5)
	require.NoError(t, err)
	b, err := f.engine.EvaluateMixture(ctx, items(f.zeolite, 30.0, f.bentonite, 20.0), 0.5)
	require.NoError(t, err)

	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Equal(t, a.XYZ, b.XYZ)
}

func TestEvaluateEmptyMixture(t *testing.T) {
	f := newFixture()
	ev, err := f.engine.EvaluateMixture(context.Background(), nil, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Metrics{}, ev.Metrics)
	assert.Equal(t, XYZ{}, ev.XYZ)

	// non-positive ratios are dropped, leaving nothing
	ev, err = f.engine.EvaluateMixture(context.Background(), items(f.zeolite, 0.0, f.bentonite, -5.0), 0.5)
	require.NoError(t, err)
	assert.Equal(t, XYZ{}, ev.XYZ)
}

func TestEvaluateBoundsAndGating(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	mats := []*store.Material{f.zeolite, f.bentonite, f.starch}

	table, err := f.engine.LoadModels(ctx, []uuid.UUID{f.zeolite.ID, f.bentonite.ID, f.starch.ID})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 300; i++ {
		var mix []store.BOMItem
		for _, m := range mats {
			if rng.Float64() < 0.8 {
				mix = append(mix, store.BOMItem{MaterialID: m.ID, Ratio: rng.Float64() * 100})
			}
		}
		p := rng.Float64()
		ev, err := table.Evaluate(mix, p)
		require.NoError(t, err)

		report := ev.Report()
		for name, v := range report.Metrics {
			assert.True(t, v >= 0 && v <= 100, "%s out of range: %v", name, v)
		}
		for _, v := range []float64{ev.XYZ.X, ev.XYZ.Y, ev.XYZ.Z} {
			assert.True(t, v >= 0 && v <= 100, "xyz out of range: %+v", ev.XYZ)
		}
		assert.LessOrEqual(t, ev.Metrics.ClumpStrength, ev.Metrics.Coagulation+1e-12)
	}
}

func TestDeodorDrivenByTaggedMaterial(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	heavy, err := f.engine.Explain(ctx, items(f.zeolite, 70.0, f.bentonite, 30.0), 0.5)
	require.NoError(t, err)
	light, err := f.engine.Explain(ctx, items(f.zeolite, 30.0, f.bentonite, 70.0), 0.5)
	require.NoError(t, err)

	byName := func(e *Explanation, name string) MaterialContribution {
		for _, m := range e.Materials {
			if m.Name == name {
				return m
			}
		}
		t.Fatalf("%s missing from explanation", name)
		return MaterialContribution{}
	}

	zHeavy := byName(heavy, "ZeoliteX").Contributions["deodor_rate"]
	bHeavy := byName(heavy, "Bentonite").Contributions["deodor_rate"]
	zLight := byName(light, "ZeoliteX").Contributions["deodor_rate"]

	// ZeoliteX's high-A/high-k model dominates the 70/30 mixture
	assert.Greater(t, zHeavy, 2*bHeavy)
	assert.Greater(t, zHeavy, zLight)
	assert.Greater(t, heavy.Report.Metrics["deodor_rate"], 80.0)

	// ordered by share
	assert.Equal(t, "ZeoliteX", heavy.Materials[0].Name)
	assert.Equal(t, "Bentonite", light.Materials[0].Name)
}

func TestDefaultModelsPersistedOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.EvaluateMixture(ctx, items(f.zeolite, 50.0, f.bentonite, 50.0), 0.5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, m := range []*store.Material{f.zeolite, f.bentonite} {
		id := m.ID
		models, err := f.store.ListModels(ctx, store.ModelFilter{MaterialID: &id})
		require.NoError(t, err)
		assert.Len(t, models, len(AllMetrics), "material %s", m.Name)
		for _, model := range models {
			assert.True(t, model.Active)
			assert.Equal(t, store.DefaultExpression, model.Expression)
			assert.Equal(t, store.DefaultModelVersion, model.Version)
		}
	}

	deodor, _ := f.store.GetActiveModel(ctx, f.zeolite.ID, string(MetricDeodor))
	assert.Equal(t, map[string]float64{"A": 0.9, "k": 7.5, "b": 0.2}, deodor.Params)
}

// ctxStore fails writes whose context is done.
type ctxStore struct {
	*store.MemoryStore
}

func (s ctxStore) UpsertDefaultModel(ctx context.Context, m *store.MetricModel) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.MemoryStore.UpsertDefaultModel(ctx, m)
}

func TestDefaultSynthesisSurvivesCallerCancellation(t *testing.T) {
	f := newFixture()
	engine := NewEngine(ctxStore{f.store}, DefaultGateParams(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	table, err := engine.LoadModels(ctx, []uuid.UUID{f.zeolite.ID})
	require.NoError(t, err)
	assert.NotNil(t, table.Model(f.zeolite.ID, MetricDeodor))

	models, err := f.store.ListModels(context.Background(), store.ModelFilter{MaterialID: &f.zeolite.ID, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, models, len(AllMetrics))
}

func TestDefaultHookFiresOncePerPair(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	f.engine.OnDefaultSynthesized(func(_ context.Context, _ *store.MetricModel) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		_, err := f.engine.EvaluateMixture(ctx, items(f.starch, 100.0), 0.5)
		require.NoError(t, err)
	}
	assert.Equal(t, len(AllMetrics), count)
}

func TestFaultyModelContributesZero(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, src := range []string{"A * r", "sat(r", "1/0"} {
		bad := &store.MetricModel{
			MaterialID: f.starch.ID,
			Metric:     string(MetricAbsorption),
			Expression: src,
			Version:    "broken",
		}
		require.NoError(t, f.store.CreateModel(ctx, bad))
		_, err := f.store.SetActiveModel(ctx, bad.ID)
		require.NoError(t, err)

		ev, err := f.engine.EvaluateMixture(ctx, items(f.starch, 100.0), 0.5)
		require.NoError(t, err, src)
		assert.Equal(t, 0.0, ev.Metrics.Absorption, src)
	}
}

func TestUnknownMaterialIsInputError(t *testing.T) {
	f := newFixture()
	_, err := f.engine.EvaluateMixture(context.Background(),
		[]store.BOMItem{{MaterialID: uuid.New(), Ratio: 50}}, 0.5)

	var inErr *InputError
	require.True(t, errors.As(err, &inErr), "got %v", err)
	assert.Equal(t, "material_id", inErr.Field)
}

func TestProcessParameterValidated(t *testing.T) {
	f := newFixture()
	for _, p := range []float64{-0.1, 1.5, math.NaN()} {
		_, err := f.engine.EvaluateMixture(context.Background(), items(f.zeolite, 100.0), p)
		var inErr *InputError
		assert.True(t, errors.As(err, &inErr), "p=%v", p)
	}
}

func TestTestExpression(t *testing.T) {
	v, err := TestExpression(store.DefaultExpression, map[string]float64{"A": 0.7, "k": 4, "b": 0.25}, 1, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.4813, v, 0.001)

	_, err = TestExpression("A * r", nil, 0.5, 0.5)
	var inErr *InputError
	assert.True(t, errors.As(err, &inErr))
}
