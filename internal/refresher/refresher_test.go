package refresher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Formulary/internal/config"
	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

type mockHermes struct {
	mu        sync.Mutex
	published []string
	handlers  map[string]func(string, []byte)
}

func newMockHermes() *mockHermes {
	return &mockHermes{handlers: make(map[string]func(string, []byte))}
}

func (m *mockHermes) Publish(subject string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, subject)
	return nil
}
func (m *mockHermes) Subscribe(subject string, h func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = h
	return nil
}
func (m *mockHermes) Close() {}

func (m *mockHermes) deliver(subject string) {
	m.mu.Lock()
	h := m.handlers[hermes.SubjectModelActivatedAll]
	m.mu.Unlock()
	if h != nil {
		h(subject, nil)
	}
}

func (m *mockHermes) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.published {
		if s == subject {
			n++
		}
	}
	return n
}

func setup(t *testing.T) (*store.MemoryStore, *scoring.Engine, *store.Sample, *store.Sample) {
	t.Helper()
	s := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := scoring.NewEngine(s, scoring.DefaultGateParams(), logger)

	zeo := s.AddMaterial(&store.Material{Name: "ZeoliteX", FunctionTags: []string{"除臭", "吸附"}})
	ben := s.AddMaterial(&store.Material{Name: "Bentonite", FunctionTags: []string{"凝結", "結團"}})

	withBOM := &store.Sample{Name: "S-001"}
	s.AddSample(withBOM, &store.BOM{Version: "v1", Active: true, Items: []store.BOMItem{
		{MaterialID: zeo.ID, Ratio: 70},
		{MaterialID: ben.ID, Ratio: 30},
	}})
	empty := &store.Sample{Name: "S-002", X: 50, Y: 50, Z: 50}
	s.AddSample(empty, nil)
	return s, engine, withBOM, empty
}

func TestRefreshSample(t *testing.T) {
	s, engine, withBOM, empty := setup(t)
	h := newMockHermes()
	r := New(s, engine, h, config.RefresherConfig{P: 0.5}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	xyz, err := r.RefreshSample(ctx, withBOM.ID)
	if err != nil {
		t.Fatalf("RefreshSample failed: %v", err)
	}
	got, _ := s.GetSample(ctx, withBOM.ID)
	if got.X != xyz.X || got.Y != xyz.Y || got.Z != xyz.Z {
		t.Errorf("stored %v/%v/%v, returned %+v", got.X, got.Y, got.Z, xyz)
	}
	if got.X <= 0 {
		t.Errorf("expected positive deodor axis, got %v", got.X)
	}
	if h.count(hermes.SubjectSampleRefreshed(withBOM.ID.String())) != 1 {
		t.Error("expected one refreshed event")
	}

	if _, err := r.RefreshSample(ctx, empty.ID); err != nil {
		t.Fatalf("RefreshSample failed: %v", err)
	}
	got, _ = s.GetSample(ctx, empty.ID)
	if got.X != 0 || got.Y != 0 || got.Z != 0 {
		t.Errorf("sample without bom should be zeroed, got %+v", got)
	}

	missing, err := r.RefreshSample(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown sample; got %v, %v", missing, err)
	}
}

func TestRefreshAllNilHermes(t *testing.T) {
	s, engine, _, _ := setup(t)
	r := New(s, engine, nil, config.RefresherConfig{P: 0.5}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := r.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 refreshed samples, got %d", n)
	}
}

func TestActivationTriggersRefresh(t *testing.T) {
	s, engine, withBOM, _ := setup(t)
	h := newMockHermes()
	r := New(s, engine, h, config.RefresherConfig{Enabled: true, IntervalMs: 3600000, P: 0.5},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	h.deliver(hermes.SubjectModelActivated(uuid.New().String()))

	subject := hermes.SubjectSampleRefreshed(withBOM.ID.String())
	deadline := time.Now().Add(2 * time.Second)
	for h.count(subject) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.count(subject) == 0 {
		t.Fatal("expected model activation to refresh samples")
	}
}

func TestStopIdempotent(t *testing.T) {
	s, engine, _, _ := setup(t)
	r := New(s, engine, nil, config.RefresherConfig{IntervalMs: 1000, P: 0.5}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
