//go:build integration

package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, "TRUNCATE bom_items, boms, samples, metric_models, material_role_constraints, materials CASCADE")
		s.Close()
	})

	return s
}

func TestPostgresMaterialRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	minR, maxR := 50.0, 80.0
	m := &Material{
		Name:         "Bentonite",
		Category:     "clay",
		FunctionTags: []string{"吸水", "結團"},
		MaxRatio:     &maxR,
		Constraint:   &RoleConstraint{Role: "main", MinRatio: &minR, Priority: 1, Enabled: true},
	}
	if err := s.CreateMaterial(ctx, m); err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}

	got, err := s.GetMaterial(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMaterial failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected material, got nil")
	}
	if len(got.FunctionTags) != 2 || got.Category != "clay" {
		t.Errorf("unexpected material: %+v", got)
	}
	if lo, hi := got.Bounds(); lo != 50 || hi != 80 {
		t.Errorf("expected bounds [50, 80], got [%v, %v]", lo, hi)
	}

	missing, err := s.GetMaterial(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing material; got %v, %v", missing, err)
	}
}

func TestPostgresUpsertDefaultModelConcurrent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	m := &Material{Name: "Zeolite", FunctionTags: []string{"除臭"}}
	if err := s.CreateMaterial(ctx, m); err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.UpsertDefaultModel(ctx, &MetricModel{
				MaterialID: m.ID,
				Metric:     "deodor_rate",
				Expression: DefaultExpression,
				Params:     map[string]float64{"A": 0.9, "k": 7.5, "b": 0.2},
				Variables:  []string{"r", "p"},
				Version:    DefaultModelVersion,
				Notes:      DefaultModelNote,
			})
			if err != nil {
				t.Errorf("UpsertDefaultModel failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("expected exactly one insert, got %d", inserted)
	}
	active, err := s.GetActiveModel(ctx, m.ID, "deodor_rate")
	if err != nil || active == nil {
		t.Fatalf("GetActiveModel: %v, %v", active, err)
	}
	if active.Params["k"] != 7.5 {
		t.Errorf("expected k=7.5, got %v", active.Params)
	}
}

func TestPostgresSetActiveModel(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	m := &Material{Name: "Starch"}
	if err := s.CreateMaterial(ctx, m); err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}
	a := &MetricModel{MaterialID: m.ID, Metric: "coagulation", Expression: "0.3*r", Params: map[string]float64{}, Variables: []string{"r", "p"}, Version: "v1"}
	b := &MetricModel{MaterialID: m.ID, Metric: "coagulation", Expression: "0.6*r", Params: map[string]float64{}, Variables: []string{"r", "p"}, Version: "v2"}
	for _, model := range []*MetricModel{a, b} {
		if err := s.CreateModel(ctx, model); err != nil {
			t.Fatalf("CreateModel failed: %v", err)
		}
	}
	if _, err := s.SetActiveModel(ctx, a.ID); err != nil {
		t.Fatalf("SetActiveModel(a) failed: %v", err)
	}
	got, err := s.SetActiveModel(ctx, b.ID)
	if err != nil {
		t.Fatalf("SetActiveModel(b) failed: %v", err)
	}
	if !got.Active || got.Version != "v2" {
		t.Errorf("unexpected active model: %+v", got)
	}
	all, err := s.ListModels(ctx, ModelFilter{MaterialID: &m.ID, ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != b.ID {
		t.Errorf("expected only b active, got %d models", len(all))
	}
}

func TestPostgresSampleBOM(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	m := &Material{Name: "Bentonite"}
	if err := s.CreateMaterial(ctx, m); err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}
	sample := &Sample{Name: "S-100"}
	bom := &BOM{Version: "v1", Active: true, Items: []BOMItem{{MaterialID: m.ID, Ratio: 100}}}
	if err := s.CreateSample(ctx, sample, bom); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	items, err := s.GetActiveBOM(ctx, sample.ID)
	if err != nil {
		t.Fatalf("GetActiveBOM failed: %v", err)
	}
	if len(items) != 1 || items[0].MaterialName != "Bentonite" {
		t.Errorf("unexpected items: %+v", items)
	}
	if err := s.UpdateSampleXYZ(ctx, sample.ID, 12.5, 40, 33.3); err != nil {
		t.Fatalf("UpdateSampleXYZ failed: %v", err)
	}
	got, err := s.GetSample(ctx, sample.ID)
	if err != nil || got == nil {
		t.Fatalf("GetSample: %v, %v", got, err)
	}
	if got.X != 12.5 || got.Z != 33.3 {
		t.Errorf("unexpected xyz: %+v", got)
	}
}
