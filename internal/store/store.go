package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultExpression is the canonical form of synthesized metric models.
const DefaultExpression = "sat(A*(1-exp(-k*r))*(1-b*r))"

// DefaultModelVersion labels synthesized models.
const DefaultModelVersion = "v1"

// DefaultModelNote marks rows written by default synthesis.
const DefaultModelNote = "auto-generated default model"

// Material is a raw ingredient that can appear in a mixture.
type Material struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category,omitempty"`
	FunctionTags []string        `json:"function_tags"`
	MinRatio     *float64        `json:"min_ratio,omitempty"`
	MaxRatio     *float64        `json:"max_ratio,omitempty"`
	CostPerKg    *float64        `json:"cost_per_kg,omitempty"`
	Constraint   *RoleConstraint `json:"constraint,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RoleConstraint overrides a material's own bounds for recipe search.
type RoleConstraint struct {
	Role     string   `json:"role"`
	MinRatio *float64 `json:"min_ratio,omitempty"`
	MaxRatio *float64 `json:"max_ratio,omitempty"`
	Priority int      `json:"priority"`
	Enabled  bool     `json:"enabled"`
}

// Bounds returns the allowed ratio percentage range. An enabled role
// constraint wins over the material's own bounds; unset bounds are 0 and 100.
func (m *Material) Bounds() (min, max float64) {
	min, max = 0, 100
	if m.MinRatio != nil {
		min = *m.MinRatio
	}
	if m.MaxRatio != nil {
		max = *m.MaxRatio
	}
	if c := m.Constraint; c != nil && c.Enabled {
		if c.MinRatio != nil {
			min = *c.MinRatio
		}
		if c.MaxRatio != nil {
			max = *c.MaxRatio
		}
	}
	return min, max
}

// Priority is the search priority from the role constraint, 0 if none.
// ListMaterials returns higher priorities first, which decides the
// swap-repair suggestion pool when it is truncated.
func (m *Material) Priority() int {
	if m.Constraint != nil && m.Constraint.Enabled {
		return m.Constraint.Priority
	}
	return 0
}

// MetricModel is one versioned formula for a (material, metric) pair.
type MetricModel struct {
	ID         uuid.UUID          `json:"id"`
	MaterialID uuid.UUID          `json:"material_id"`
	Metric     string             `json:"metric"`
	Expression string             `json:"expression"`
	Params     map[string]float64 `json:"params"`
	Variables  []string           `json:"variables"`
	Version    string             `json:"version"`
	Active     bool               `json:"active"`
	Notes      string             `json:"notes,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// BOMItem is one (material, ratio percent) entry of a mixture.
type BOMItem struct {
	MaterialID   uuid.UUID `json:"material_id"`
	MaterialName string    `json:"material,omitempty"`
	Ratio        float64   `json:"ratio"`
}

// Sample is a tested or planned formulation with its cached target score.
type Sample struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	X         float64   `json:"x_deodor"`
	Y         float64   `json:"y_absorb"`
	Z         float64   `json:"z_crush"`
	Status    string    `json:"status"`
	Tags      []string  `json:"tags,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BOM is one version of a sample's bill of materials.
type BOM struct {
	ID        uuid.UUID `json:"id"`
	SampleID  uuid.UUID `json:"sample_id"`
	Version   string    `json:"version"`
	Active    bool      `json:"active"`
	Items     []BOMItem `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

type MaterialFilter struct {
	IDs     []uuid.UUID
	Exclude []uuid.UUID
	Limit   int
}

type ModelFilter struct {
	MaterialID *uuid.UUID
	Metric     string
	ActiveOnly bool
}

// ModelStore is the read path of the scoring engine plus the one write it
// performs: idempotent default-model synthesis.
type ModelStore interface {
	GetMaterial(ctx context.Context, id uuid.UUID) (*Material, error)
	ListMaterials(ctx context.Context, filter MaterialFilter) ([]*Material, error)
	GetActiveModel(ctx context.Context, materialID uuid.UUID, metric string) (*MetricModel, error)
	// UpsertDefaultModel inserts m as the active model unless one already
	// exists. Losing a concurrent race is not an error; inserted reports
	// whether this call wrote the row.
	UpsertDefaultModel(ctx context.Context, m *MetricModel) (inserted bool, err error)
}

// ModelAdmin is the model-management surface.
type ModelAdmin interface {
	ListModels(ctx context.Context, filter ModelFilter) ([]*MetricModel, error)
	GetModel(ctx context.Context, id uuid.UUID) (*MetricModel, error)
	CreateModel(ctx context.Context, m *MetricModel) error
	UpdateModel(ctx context.Context, m *MetricModel) error
	// SetActiveModel deactivates every sibling of id and activates id in
	// one atomic step.
	SetActiveModel(ctx context.Context, id uuid.UUID) (*MetricModel, error)
}

// MixtureStore supplies sample BOMs and receives cached scores.
type MixtureStore interface {
	GetSample(ctx context.Context, id uuid.UUID) (*Sample, error)
	ListSamples(ctx context.Context) ([]*Sample, error)
	GetActiveBOM(ctx context.Context, sampleID uuid.UUID) ([]BOMItem, error)
	GetBOM(ctx context.Context, id uuid.UUID) (*BOM, error)
	SetActiveBOM(ctx context.Context, bomID uuid.UUID) (*BOM, error)
	UpdateSampleXYZ(ctx context.Context, sampleID uuid.UUID, x, y, z float64) error
}

type Store interface {
	ModelStore
	ModelAdmin
	MixtureStore
	Close() error
}
