// ABOUTME: Coach configuration management with backend selection.
// ABOUTME: Handles engine settings, storage and generator factories, and the JSON config file.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/normalize"
	"github.com/harperreed/coach/internal/retention"
	"github.com/harperreed/coach/internal/risk"
	"github.com/harperreed/coach/internal/scheduler"
	"github.com/harperreed/coach/internal/storage"
	"github.com/harperreed/coach/internal/textgen"
	"github.com/rs/zerolog"
)

// Environment variables read at runtime.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvPostgresDSN  = "COACH_POSTGRES_DSN"
)

// Config stores coach configuration. Every field is optional.
type Config struct {
	// Backend selects the storage backend: "sqlite" (default) or "postgres".
	Backend string `json:"backend,omitempty"`

	// DataDir is the root directory for data storage. SQLite puts coach.db
	// here. Supports ~ expansion. Defaults to ~/.local/share/coach.
	DataDir string `json:"data_dir,omitempty"`

	// PostgresDSN is used by the postgres backend. COACH_POSTGRES_DSN overrides it.
	PostgresDSN string `json:"postgres_dsn,omitempty"`

	LogLevel string `json:"log_level,omitempty"`

	// FactorsFile points to a JSON conversion table replacing the built-in one.
	FactorsFile string `json:"factors_file,omitempty"`

	// RiskProfiles overrides thresholds per profile name.
	RiskProfiles map[string]risk.Thresholds `json:"risk_profiles,omitempty"`

	RetentionDays    int `json:"retention_days,omitempty"`
	LogRetentionDays int `json:"log_retention_days,omitempty"`

	// Durations use Go syntax, e.g. "30s" or "2m".
	GenerationTimeout string `json:"generation_timeout,omitempty"`
	SyncTimeout       string `json:"sync_timeout,omitempty"`
	ClaimLease        string `json:"claim_lease,omitempty"`

	SchedulerHour *int   `json:"scheduler_hour,omitempty"`
	ListenAddr    string `json:"listen_addr,omitempty"`

	// Generator selects the text generator: "template" (default) or "gemini".
	Generator   string `json:"generator,omitempty"`
	GeminiModel string `json:"gemini_model,omitempty"`
}

// Settings are the resolved, immutable values handed to components.
type Settings struct {
	LogLevel   string
	ListenAddr string
	Factors    normalize.Factors
	Profiles   risk.Profiles
	Ledger     ledger.Options
	Sync       ingest.SyncConfig
	Retention  []retention.Policy
	Scheduler  scheduler.Config
}

// GetBackend returns the configured backend, defaulting to "sqlite".
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return storage.DriverSQLite
	}
	return c.Backend
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return storage.DataDir()
	}
	return ExpandPath(c.DataDir)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// OpenStorage opens the configured backend.
func (c *Config) OpenStorage() (*storage.DB, error) {
	switch c.GetBackend() {
	case storage.DriverSQLite:
		return storage.Open(filepath.Join(c.GetDataDir(), "coach.db"))
	case storage.DriverPostgres:
		dsn := os.Getenv(EnvPostgresDSN)
		if dsn == "" {
			dsn = c.PostgresDSN
		}
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend needs postgres_dsn or %s", EnvPostgresDSN)
		}
		return storage.OpenPostgres(dsn, storage.DefaultPoolConfig())
	default:
		return nil, fmt.Errorf("unknown backend: %q", c.Backend)
	}
}

// OpenGenerator builds the configured text generator. The returned closer
// releases any client it holds.
func (c *Config) OpenGenerator(ctx context.Context, log zerolog.Logger) (textgen.Generator, func() error, error) {
	noop := func() error { return nil }
	switch c.Generator {
	case "", "template":
		return textgen.Template{}, noop, nil
	case "gemini":
		g, err := textgen.NewGemini(ctx, os.Getenv(EnvGeminiAPIKey), c.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return textgen.NewGuarded(g, textgen.DefaultGuardConfig(), log), g.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown generator: %q", c.Generator)
	}
}

// Settings resolves the config into component values, applying defaults.
func (c *Config) Settings() (Settings, error) {
	s := Settings{
		LogLevel:   c.LogLevel,
		ListenAddr: c.ListenAddr,
		Factors:    normalize.DefaultFactors(),
		Profiles:   risk.DefaultProfiles(),
		Ledger:     ledger.DefaultOptions(),
		Sync:       ingest.DefaultSyncConfig(),
		Retention:  retention.DefaultPolicies(),
		Scheduler:  scheduler.Config{Hour: 4, Concurrency: 4},
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.ListenAddr == "" {
		s.ListenAddr = "127.0.0.1:8080"
	}

	if c.FactorsFile != "" {
		f, err := LoadFactors(ExpandPath(c.FactorsFile))
		if err != nil {
			return Settings{}, err
		}
		s.Factors = f
	}

	for name, t := range c.RiskProfiles {
		profile, err := models.ParseRiskProfile(name)
		if err != nil {
			return Settings{}, fmt.Errorf("risk_profiles: unknown profile %q", name)
		}
		if t.ACWR <= 0 || t.MaxConsecutiveDays <= 0 || t.DivergenceMagnitude <= 0 {
			return Settings{}, fmt.Errorf("risk_profiles.%s: thresholds must be positive", name)
		}
		s.Profiles[profile] = t
	}

	if c.RetentionDays < 0 || c.LogRetentionDays < 0 {
		return Settings{}, fmt.Errorf("retention days must not be negative")
	}
	if c.RetentionDays > 0 {
		s.Ledger.RetentionDays = c.RetentionDays
	}
	for i := range s.Retention {
		switch s.Retention[i].Target {
		case storage.PruneRecommendations:
			s.Retention[i].Days = s.Ledger.RetentionDays
		case storage.PruneGenerationLog:
			if c.LogRetentionDays > 0 {
				s.Retention[i].Days = c.LogRetentionDays
			}
		}
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"generation_timeout", c.GenerationTimeout, &s.Ledger.GenerationTimeout},
		{"sync_timeout", c.SyncTimeout, &s.Sync.Timeout},
		{"claim_lease", c.ClaimLease, &s.Ledger.ClaimLease},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return Settings{}, fmt.Errorf("%s: invalid duration %q", d.name, d.raw)
		}
		*d.dst = v
	}
	if s.Ledger.ClaimLease <= s.Ledger.GenerationTimeout {
		return Settings{}, fmt.Errorf("claim_lease (%s) must exceed generation_timeout (%s)", s.Ledger.ClaimLease, s.Ledger.GenerationTimeout)
	}
	s.Ledger.WaitTimeout = s.Ledger.GenerationTimeout + 5*time.Second

	if c.SchedulerHour != nil {
		if *c.SchedulerHour < 0 || *c.SchedulerHour > 23 {
			return Settings{}, fmt.Errorf("scheduler_hour must be 0-23")
		}
		s.Scheduler.Hour = *c.SchedulerHour
	}
	return s, nil
}

// LoadFactors reads and validates a conversion table from a JSON file.
func LoadFactors(path string) (normalize.Factors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return normalize.Factors{}, fmt.Errorf("read factors: %w", err)
	}
	var f normalize.Factors
	if err := json.Unmarshal(data, &f); err != nil {
		return normalize.Factors{}, fmt.Errorf("parse factors: %w", err)
	}
	if err := f.Validate(); err != nil {
		return normalize.Factors{}, err
	}
	return f, nil
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coach", "config.json")
}

// Load reads config from disk.
func Load() (*Config, error) {
	path := GetConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to disk.
func (c *Config) Save() error {
	path := GetConfigPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
