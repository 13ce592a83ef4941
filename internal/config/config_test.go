package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
)

var envVars = []string{
	"FORMULARY_PORT", "FORMULARY_METRICS_PORT", "FORMULARY_ADMIN_TOKEN",
	"FORMULARY_DATABASE_DRIVER", "FORMULARY_DATABASE_URL", "FORMULARY_HERMES_URL",
	"FORMULARY_SEARCH_SEED", "FORMULARY_SEARCH_WORKERS", "FORMULARY_PARETO_ENABLED",
	"FORMULARY_REFRESH_INTERVAL_MS", "FORMULARY_REFRESHER_ENABLED",
	"FORMULARY_LOG_LEVEL", "FORMULARY_LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORMULARY_DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8700 {
		t.Errorf("expected port 8700, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 8701 {
		t.Errorf("expected metrics port 8701, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Hermes.URL != "nats://localhost:4222" {
		t.Errorf("expected nats URL, got %s", cfg.Hermes.URL)
	}
	if cfg.Scoring != scoring.DefaultGateParams() {
		t.Errorf("expected default gates, got %+v", cfg.Scoring)
	}
	if cfg.Search.TrialsPerMaterial != 120 || cfg.Search.MaxTrialsPerRatio != 700 {
		t.Errorf("unexpected trial defaults: %+v", cfg.Search.Config)
	}
	if !cfg.Search.ParetoEnabled {
		t.Error("expected pareto enabled by default")
	}
	if cfg.Search.Seed != 0 {
		t.Errorf("expected zero seed, got %d", cfg.Search.Seed)
	}
	if cfg.Repair.SuggestionPool != 20 || cfg.Repair.TopSuggestions != 5 || cfg.Repair.MaxAddPercent != 8 {
		t.Errorf("unexpected repair defaults: %+v", cfg.Repair)
	}
	if cfg.RefreshInterval() != 5*time.Minute {
		t.Errorf("expected refresh interval 5m, got %v", cfg.RefreshInterval())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadPostgresNeedsURL(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "database.url") {
		t.Errorf("expected database.url error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORMULARY_PORT", "9000")
	t.Setenv("FORMULARY_METRICS_PORT", "9001")
	t.Setenv("FORMULARY_ADMIN_TOKEN", "secret-token")
	t.Setenv("FORMULARY_DATABASE_DRIVER", "mysql")
	t.Setenv("FORMULARY_DATABASE_URL", "root:pw@tcp(localhost:3306)/formulary")
	t.Setenv("FORMULARY_HERMES_URL", "nats://nats:4222")
	t.Setenv("FORMULARY_SEARCH_SEED", "42")
	t.Setenv("FORMULARY_SEARCH_WORKERS", "2")
	t.Setenv("FORMULARY_PARETO_ENABLED", "false")
	t.Setenv("FORMULARY_REFRESH_INTERVAL_MS", "2000")
	t.Setenv("FORMULARY_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.MetricsPort != 9001 {
		t.Errorf("unexpected ports: %+v", cfg.Server)
	}
	if cfg.Server.AdminToken != "secret-token" {
		t.Errorf("expected admin token, got '%s'", cfg.Server.AdminToken)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.URL == "" {
		t.Errorf("unexpected database: %+v", cfg.Database)
	}
	if cfg.Hermes.URL != "nats://nats:4222" {
		t.Errorf("expected hermes URL, got '%s'", cfg.Hermes.URL)
	}
	if cfg.Search.Seed != 42 || cfg.Search.Workers != 2 || cfg.Search.ParetoEnabled {
		t.Errorf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.RefreshInterval() != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.RefreshInterval())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "formulary.yaml")
	yamlDoc := `
database:
  driver: memory
scoring:
  coag_steepness: 10
search:
  trials_per_material: 50
  seed: 7
repair:
  max_add_percent: 4
refresher:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scoring.CoagSteepness != 10 {
		t.Errorf("expected coag steepness 10, got %v", cfg.Scoring.CoagSteepness)
	}
	if cfg.Scoring.ClumpSteepness != 8 {
		t.Errorf("unset gate fields must keep defaults, got %v", cfg.Scoring.ClumpSteepness)
	}
	if cfg.Search.TrialsPerMaterial != 50 || cfg.Search.Seed != 7 {
		t.Errorf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.Search.MaxTrialsPerRatio != 700 {
		t.Errorf("expected max trials default kept, got %d", cfg.Search.MaxTrialsPerRatio)
	}
	if cfg.Repair.MaxAddPercent != 4 || cfg.Repair.SuggestionPool != 20 {
		t.Errorf("unexpected repair config: %+v", cfg.Repair)
	}
	if cfg.Refresher.Enabled {
		t.Error("expected refresher disabled")
	}
}

func TestValidateRejectsBadGates(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: memory\nscoring:\n  coag_threshold: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected invalid gate params to be rejected")
	}

	path = filepath.Join(t.TempDir(), "driver.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected unknown driver to be rejected")
	}
}
