package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/Formulary/internal/scoring"
	"github.com/MikeSquared-Agency/Formulary/internal/search"
)

type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Database  DatabaseConfig      `yaml:"database"`
	Hermes    HermesConfig        `yaml:"hermes"`
	Scoring   scoring.GateParams  `yaml:"scoring"`
	Search    SearchConfig        `yaml:"search"`
	Repair    search.RepairConfig `yaml:"repair"`
	Refresher RefresherConfig     `yaml:"refresher"`
	Logging   LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

// DatabaseConfig selects the store. Driver is postgres, mysql or memory.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

// SearchConfig is the optimizer config plus the random seed. A zero seed
// seeds from the clock.
type SearchConfig struct {
	search.Config `yaml:",inline"`
	Seed          int64 `yaml:"seed"`
}

type RefresherConfig struct {
	Enabled    bool    `yaml:"enabled"`
	IntervalMs int     `yaml:"interval_ms"`
	P          float64 `yaml:"p"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresher.IntervalMs) * time.Millisecond
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %s", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if c.Search.TrialsPerMaterial < 0 || c.Search.MaxTrialsPerRatio < 0 {
		return fmt.Errorf("search trial counts must not be negative")
	}
	if c.Refresher.Enabled && c.Refresher.IntervalMs <= 0 {
		return fmt.Errorf("refresher.interval_ms must be positive")
	}
	if !(c.Refresher.P >= 0 && c.Refresher.P <= 1) {
		return fmt.Errorf("refresher.p must be in [0, 1], got %v", c.Refresher.P)
	}
	return nil
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Scoring: scoring.DefaultGateParams(),
		Search:  SearchConfig{Config: search.DefaultConfig()},
		Repair:  search.DefaultRepairConfig(),
		Refresher: RefresherConfig{
			Enabled:    true,
			IntervalMs: 300000,
			P:          0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FORMULARY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("FORMULARY_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("FORMULARY_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("FORMULARY_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FORMULARY_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("FORMULARY_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("FORMULARY_SEARCH_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Search.Seed = n
		}
	}
	if v := os.Getenv("FORMULARY_SEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.Workers = n
		}
	}
	if v := os.Getenv("FORMULARY_PARETO_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.ParetoEnabled = b
		}
	}
	if v := os.Getenv("FORMULARY_REFRESH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Refresher.IntervalMs = n
		}
	}
	if v := os.Getenv("FORMULARY_REFRESHER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Refresher.Enabled = b
		}
	}
	if v := os.Getenv("FORMULARY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FORMULARY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
