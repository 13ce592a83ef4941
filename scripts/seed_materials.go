// seed_materials.go loads materials and sample BOMs from a YAML file into Postgres.
//
// Usage:
//
//	go run scripts/seed_materials.go -file scripts/seed.example.yaml -db postgres://localhost/formulary
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

type seedRole struct {
	Role     string   `yaml:"role"`
	MinRatio *float64 `yaml:"min_ratio"`
	MaxRatio *float64 `yaml:"max_ratio"`
	Priority int      `yaml:"priority"`
}

type seedMaterial struct {
	Name         string    `yaml:"name"`
	Category     string    `yaml:"category"`
	FunctionTags []string  `yaml:"function_tags"`
	MinRatio     *float64  `yaml:"min_ratio"`
	MaxRatio     *float64  `yaml:"max_ratio"`
	CostPerKg    *float64  `yaml:"cost_per_kg"`
	Role         *seedRole `yaml:"role"`
}

type seedItem struct {
	Material string  `yaml:"material"`
	Ratio    float64 `yaml:"ratio"`
}

type seedSample struct {
	Name    string     `yaml:"name"`
	Status  string     `yaml:"status"`
	Tags    []string   `yaml:"tags"`
	Version string     `yaml:"version"`
	BOM     []seedItem `yaml:"bom"`
}

type seedFile struct {
	Materials []seedMaterial `yaml:"materials"`
	Samples   []seedSample   `yaml:"samples"`
}

func main() {
	path := flag.String("file", "scripts/seed.example.yaml", "path to seed YAML")
	dbURL := flag.String("db", os.Getenv("FORMULARY_DATABASE_URL"), "Postgres URL")
	dryRun := flag.Bool("dry-run", false, "print what would be seeded without writing")
	flag.Parse()

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read seed file: %v", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		log.Fatalf("parse seed file: %v", err)
	}

	if *dryRun {
		for _, m := range seed.Materials {
			fmt.Printf("material %-16s tags=%v\n", m.Name, m.FunctionTags)
		}
		for _, s := range seed.Samples {
			fmt.Printf("sample   %-16s items=%d\n", s.Name, len(s.BOM))
		}
		return
	}
	if *dbURL == "" {
		log.Fatal("database URL is required (-db or FORMULARY_DATABASE_URL)")
	}

	ctx := context.Background()
	db, err := store.NewPostgresStore(ctx, *dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ids := make(map[string]*store.Material, len(seed.Materials))
	for _, sm := range seed.Materials {
		m := &store.Material{
			Name:         sm.Name,
			Category:     sm.Category,
			FunctionTags: sm.FunctionTags,
			MinRatio:     sm.MinRatio,
			MaxRatio:     sm.MaxRatio,
			CostPerKg:    sm.CostPerKg,
		}
		if sm.Role != nil {
			m.Constraint = &store.RoleConstraint{
				Role:     sm.Role.Role,
				MinRatio: sm.Role.MinRatio,
				MaxRatio: sm.Role.MaxRatio,
				Priority: sm.Role.Priority,
				Enabled:  true,
			}
		}
		if err := db.CreateMaterial(ctx, m); err != nil {
			log.Fatalf("seed material %s: %v", sm.Name, err)
		}
		ids[m.Name] = m
		fmt.Printf("material %-16s %s\n", m.Name, m.ID)
	}

	for _, ss := range seed.Samples {
		bom := &store.BOM{Version: ss.Version, Active: true}
		if bom.Version == "" {
			bom.Version = "v1"
		}
		for _, it := range ss.BOM {
			m, ok := ids[it.Material]
			if !ok {
				log.Fatalf("sample %s references unknown material %q", ss.Name, it.Material)
			}
			bom.Items = append(bom.Items, store.BOMItem{MaterialID: m.ID, Ratio: it.Ratio})
		}
		sample := &store.Sample{Name: ss.Name, Status: ss.Status, Tags: ss.Tags}
		if err := db.CreateSample(ctx, sample, bom); err != nil {
			log.Fatalf("seed sample %s: %v", ss.Name, err)
		}
		fmt.Printf("sample   %-16s %s\n", sample.Name, sample.ID)
	}

	fmt.Printf("\nSeeded %d materials and %d samples.\n", len(seed.Materials), len(seed.Samples))
}
