//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func setupMySQL(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set, skipping integration test")
	}
	ctx := context.Background()
	s, err := NewMySQLStore(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		for _, table := range []string{"bom_items", "boms", "samples", "metric_models", "material_role_constraints", "materials"} {
			_, _ = s.db.ExecContext(ctx, "DELETE FROM "+table)
		}
		_ = s.Close()
	})
	return s
}

func TestMySQLUpsertDefaultModelToleratesDuplicate(t *testing.T) {
	s := setupMySQL(t)
	ctx := context.Background()

	id := uuid.New()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO materials (id, name, function_tags) VALUES (?, ?, '[]')`, id, "Zeolite"); err != nil {
		t.Fatalf("insert material: %v", err)
	}

	model := func() *MetricModel {
		return &MetricModel{
			MaterialID: id,
			Metric:     "deodor_rate",
			Expression: DefaultExpression,
			Params:     map[string]float64{"A": 0.9, "k": 7.5, "b": 0.2},
			Variables:  []string{"r", "p"},
			Version:    DefaultModelVersion,
		}
	}
	first, err := s.UpsertDefaultModel(ctx, model())
	if err != nil || !first {
		t.Fatalf("expected first upsert to insert, got %v, %v", first, err)
	}
	second, err := s.UpsertDefaultModel(ctx, model())
	if err != nil {
		t.Fatalf("duplicate upsert must not fail: %v", err)
	}
	if second {
		t.Error("expected duplicate upsert to report no insert")
	}

	active, err := s.GetActiveModel(ctx, id, "deodor_rate")
	if err != nil || active == nil {
		t.Fatalf("GetActiveModel: %v, %v", active, err)
	}
	if len(active.Variables) != 2 || active.Params["A"] != 0.9 {
		t.Errorf("unexpected model: %+v", active)
	}
}
