package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/Formulary/internal/api"
	"github.com/MikeSquared-Agency/Formulary/internal/config"
	"github.com/MikeSquared-Agency/Formulary/internal/hermes"
	"github.com/MikeSquared-Agency/Formulary/internal/refresher"
	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/search"
	"github.com/MikeSquared-Agency/Formulary/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("store ready", "driver", cfg.Database.Driver)

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Scoring engine
	engine := scoring.NewEngine(db, cfg.Scoring, logger)
	if hermesClient != nil {
		engine.OnDefaultSynthesized(func(_ context.Context, m *store.MetricModel) {
			_ = hermesClient.Publish(hermes.SubjectModelDefaulted(m.ID.String()), hermes.ModelEvent{
				ModelID:    m.ID.String(),
				MaterialID: m.MaterialID.String(),
				Metric:     m.Metric,
				Version:    m.Version,
				Expression: m.Expression,
				Params:     m.Params,
			})
		})
	}

	seed := cfg.Search.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	optimizer := search.NewOptimizer(engine, db, cfg.Search.Config, rand.New(rand.NewSource(seed)), logger)
	repairer := search.NewSwapRepairer(engine, db, cfg.Repair, logger)

	// Sample refresher
	ref := refresher.New(db, engine, hermesClient, cfg.Refresher, logger)
	if cfg.Refresher.Enabled {
		ref.Start(ctx)
		defer ref.Stop()
		logger.Info("refresher started", "interval", cfg.RefreshInterval())
	}

	// API server
	router := api.NewRouter(api.Services{
		Store:     db,
		Hermes:    hermesClient,
		Engine:    engine,
		Optimizer: optimizer,
		Repairer:  repairer,
		Refresher: ref,
	}, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(),
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port, "search_seed", seed)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "mysql":
		return store.NewMySQLStore(ctx, cfg.URL)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewPostgresStore(ctx, cfg.URL)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
