// Package refresher keeps each sample's cached X/Y/Z in step with its
// active BOM and the currently active metric models.
package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MikeSquared-Agency/Formulary/internal/config"
	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

var refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "formulary_sample_refreshes_total",
	Help: "Sample XYZ cache refreshes by result.",
}, []string{"result"})

type Refresher struct {
	store  store.MixtureStore
	engine *scoring.Engine
	hermes hermes.Client
	cfg    config.RefresherConfig
	logger *slog.Logger

	// trigger coalesces full-refresh requests from model activations
	trigger chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.MixtureStore, engine *scoring.Engine, h hermes.Client, cfg config.RefresherConfig, logger *slog.Logger) *Refresher {
	return &Refresher{
		store:   s,
		engine:  engine,
		hermes:  h,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic refresh loop and, when connected to hermes,
// refreshes every sample after any model activation.
func (r *Refresher) Start(ctx context.Context) {
	if r.hermes != nil {
		err := r.hermes.Subscribe(hermes.SubjectModelActivatedAll, func(subject string, _ []byte) {
			r.logger.Debug("model activated, scheduling refresh", "subject", subject)
			r.Trigger()
		})
		if err != nil {
			r.logger.Warn("failed to subscribe to model activations", "error", err)
		}
	}
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Trigger requests a full refresh without blocking.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAllLogged(ctx)
		case <-r.trigger:
			r.refreshAllLogged(ctx)
		}
	}
}

func (r *Refresher) refreshAllLogged(ctx context.Context) {
	n, err := r.RefreshAll(ctx)
	if err != nil {
		r.logger.Error("sample refresh failed", "error", err)
		return
	}
	r.logger.Info("refreshed sample xyz cache", "samples", n)
}

// RefreshAll re-evaluates every sample. A failure on one sample is logged
// and does not stop the others; the count is of successful refreshes.
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	samples, err := r.store.ListSamples(ctx)
	if err != nil {
		return 0, fmt.Errorf("list samples: %w", err)
	}
	n := 0
	for _, s := range samples {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := r.RefreshSample(ctx, s.ID); err != nil {
			r.logger.Warn("failed to refresh sample", "sample_id", s.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// RefreshSample evaluates the sample's active BOM and stores the rounded
// XYZ. A sample without an active BOM is stored as (0, 0, 0). Returns nil
// when the sample does not exist.
func (r *Refresher) RefreshSample(ctx context.Context, sampleID uuid.UUID) (*scoring.XYZ, error) {
	sample, err := r.store.GetSample(ctx, sampleID)
	if err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}
	if sample == nil {
		return nil, nil
	}

	items, err := r.store.GetActiveBOM(ctx, sampleID)
	if err != nil {
		refreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load active bom: %w", err)
	}
	ev, err := r.engine.EvaluateMixture(ctx, items, r.cfg.P)
	if err != nil {
		refreshes.WithLabelValues("error").Inc()
		return nil, err
	}

	xyz := ev.XYZ.Round()
	if err := r.store.UpdateSampleXYZ(ctx, sampleID, xyz.X, xyz.Y, xyz.Z); err != nil {
		refreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("update sample xyz: %w", err)
	}
	refreshes.WithLabelValues("ok").Inc()

	if r.hermes != nil {
		_ = r.hermes.Publish(hermes.SubjectSampleRefreshed(sampleID.String()), hermes.SampleRefreshedEvent{
			SampleID:  sampleID.String(),
			X:         xyz.X,
			Y:         xyz.Y,
			Z:         xyz.Z,
			Timestamp: time.Now().UTC(),
		})
	}
	return &xyz, nil
}
