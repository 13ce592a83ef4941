package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and the demo server.
// Returned values are copies; callers may modify them freely.
type MemoryStore struct {
	mu        sync.RWMutex
	materials map[uuid.UUID]*Material
	models    map[uuid.UUID]*MetricModel
	samples   map[uuid.UUID]*Sample
	boms      map[uuid.UUID]*BOM
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		materials: make(map[uuid.UUID]*Material),
		models:    make(map[uuid.UUID]*MetricModel),
		samples:   make(map[uuid.UUID]*Sample),
		boms:      make(map[uuid.UUID]*BOM),
	}
}

func (s *MemoryStore) Close() error { return nil }

// AddMaterial registers m, assigning an id when it has none.
func (s *MemoryStore) AddMaterial(m *Material) *Material {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := copyMaterial(m)
	s.materials[m.ID] = cp
	return copyMaterial(cp)
}

// AddSample registers a sample and, when bom is non-nil, its BOM.
func (s *MemoryStore) AddSample(sample *Sample, bom *BOM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sample.ID == uuid.Nil {
		sample.ID = uuid.New()
	}
	if sample.Status == "" {
		sample.Status = "draft"
	}
	sample.UpdatedAt = time.Now().UTC()
	cp := *sample
	s.samples[sample.ID] = &cp
	if bom != nil {
		s.addBOMLocked(sample.ID, bom)
	}
}

// AddBOM attaches a new BOM version to an existing sample.
func (s *MemoryStore) AddBOM(sampleID uuid.UUID, bom *BOM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addBOMLocked(sampleID, bom)
}

func (s *MemoryStore) addBOMLocked(sampleID uuid.UUID, bom *BOM) {
	if bom.ID == uuid.Nil {
		bom.ID = uuid.New()
	}
	bom.SampleID = sampleID
	bom.CreatedAt = time.Now().UTC()
	if bom.Active {
		for _, b := range s.boms {
			if b.SampleID == sampleID {
				b.Active = false
			}
		}
	}
	s.boms[bom.ID] = copyBOM(bom)
}

func (s *MemoryStore) GetMaterial(_ context.Context, id uuid.UUID) (*Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.materials[id]
	if !ok {
		return nil, nil
	}
	return copyMaterial(m), nil
}

func (s *MemoryStore) ListMaterials(_ context.Context, filter MaterialFilter) ([]*Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	include := idSet(filter.IDs)
	exclude := idSet(filter.Exclude)
	var out []*Material
	for _, m := range s.materials {
		if len(include) > 0 && !include[m.ID] {
			continue
		}
		if exclude[m.ID] {
			continue
		}
		out = append(out, copyMaterial(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if pi, pj := out[i].Priority(), out[j].Priority(); pi != pj {
			return pi > pj
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetActiveModel(_ context.Context, materialID uuid.UUID, metric string) (*MetricModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.activeLocked(materialID, metric); m != nil {
		return copyModel(m), nil
	}
	return nil, nil
}

func (s *MemoryStore) activeLocked(materialID uuid.UUID, metric string) *MetricModel {
	for _, m := range s.models {
		if m.Active && m.MaterialID == materialID && m.Metric == metric {
			return m
		}
	}
	return nil
}

func (s *MemoryStore) UpsertDefaultModel(_ context.Context, m *MetricModel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(m.MaterialID, m.Metric) != nil {
		return false, nil
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.Active = true
	m.CreatedAt, m.UpdatedAt = now, now
	s.models[m.ID] = copyModel(m)
	return true, nil
}

func (s *MemoryStore) ListModels(_ context.Context, filter ModelFilter) ([]*MetricModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MetricModel
	for _, m := range s.models {
		if filter.MaterialID != nil && m.MaterialID != *filter.MaterialID {
			continue
		}
		if filter.Metric != "" && m.Metric != filter.Metric {
			continue
		}
		if filter.ActiveOnly && !m.Active {
			continue
		}
		out = append(out, copyModel(m))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MaterialID != b.MaterialID {
			return a.MaterialID.String() < b.MaterialID.String()
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetModel(_ context.Context, id uuid.UUID) (*MetricModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, nil
	}
	return copyModel(m), nil
}

func (s *MemoryStore) CreateModel(_ context.Context, m *MetricModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.Active = false
	m.CreatedAt, m.UpdatedAt = now, now
	s.models[m.ID] = copyModel(m)
	return nil
}

func (s *MemoryStore) UpdateModel(_ context.Context, m *MetricModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.models[m.ID]
	if !ok {
		return nil
	}
	cur.Expression = m.Expression
	cur.Params = copyParams(m.Params)
	cur.Variables = append([]string(nil), m.Variables...)
	cur.Version = m.Version
	cur.Notes = m.Notes
	cur.UpdatedAt = time.Now().UTC()
	m.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryStore) SetActiveModel(_ context.Context, id uuid.UUID) (*MetricModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.models[id]
	if !ok {
		return nil, nil
	}
	now := time.Now().UTC()
	for _, m := range s.models {
		if m.MaterialID == target.MaterialID && m.Metric == target.Metric && m.Active && m.ID != id {
			m.Active = false
			m.UpdatedAt = now
		}
	}
	target.Active = true
	target.UpdatedAt = now
	return copyModel(target), nil
}

func (s *MemoryStore) GetSample(_ context.Context, id uuid.UUID) (*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[id]
	if !ok {
		return nil, nil
	}
	cp := *sample
	return &cp, nil
}

func (s *MemoryStore) ListSamples(_ context.Context) ([]*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Sample, 0, len(s.samples))
	for _, sample := range s.samples {
		cp := *sample
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetActiveBOM(_ context.Context, sampleID uuid.UUID) ([]BOMItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.boms {
		if b.SampleID == sampleID && b.Active {
			return s.namedItemsLocked(b.Items), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) namedItemsLocked(items []BOMItem) []BOMItem {
	out := make([]BOMItem, len(items))
	for i, it := range items {
		if m, ok := s.materials[it.MaterialID]; ok {
			it.MaterialName = m.Name
		}
		out[i] = it
	}
	return out
}

func (s *MemoryStore) GetBOM(_ context.Context, id uuid.UUID) (*BOM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boms[id]
	if !ok {
		return nil, nil
	}
	cp := copyBOM(b)
	cp.Items = s.namedItemsLocked(b.Items)
	return cp, nil
}

func (s *MemoryStore) SetActiveBOM(_ context.Context, bomID uuid.UUID) (*BOM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.boms[bomID]
	if !ok {
		return nil, nil
	}
	for _, b := range s.boms {
		if b.SampleID == target.SampleID {
			b.Active = b.ID == bomID
		}
	}
	cp := copyBOM(target)
	cp.Items = s.namedItemsLocked(target.Items)
	return cp, nil
}

func (s *MemoryStore) UpdateSampleXYZ(_ context.Context, sampleID uuid.UUID, x, y, z float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[sampleID]
	if !ok {
		return nil
	}
	sample.X, sample.Y, sample.Z = x, y, z
	sample.UpdatedAt = time.Now().UTC()
	return nil
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyMaterial(m *Material) *Material {
	cp := *m
	cp.FunctionTags = append([]string(nil), m.FunctionTags...)
	cp.MinRatio = copyFloat(m.MinRatio)
	cp.MaxRatio = copyFloat(m.MaxRatio)
	cp.CostPerKg = copyFloat(m.CostPerKg)
	if m.Constraint != nil {
		c := *m.Constraint
		c.MinRatio = copyFloat(c.MinRatio)
		c.MaxRatio = copyFloat(c.MaxRatio)
		cp.Constraint = &c
	}
	return &cp
}

func copyParams(p map[string]float64) map[string]float64 {
	if p == nil {
		return nil
	}
	out := make(map[string]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func copyModel(m *MetricModel) *MetricModel {
	cp := *m
	cp.Params = copyParams(m.Params)
	cp.Variables = append([]string(nil), m.Variables...)
	return &cp
}

func copyBOM(b *BOM) *BOM {
	cp := *b
	cp.Items = append([]BOMItem(nil), b.Items...)
	return &cp
}
