package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr  string              `json:"listen_addr" yaml:"listen_addr"`
	CatalogPath string              `json:"catalog_path" yaml:"catalog_path"`
	Database    DatabaseConfig      `json:"database" yaml:"database"`
	Auth        AuthConfig          `json:"auth" yaml:"auth"`
	Security    SecurityConfig      `json:"security" yaml:"security"`
	Gateway     GatewayConfig       `json:"gateway" yaml:"gateway"`
	Runs        RunsConfig          `json:"runs" yaml:"runs"`
	Observer    ObservabilityConfig `json:"observability" yaml:"observability"`
	Limits      RateLimitConfig     `json:"limits" yaml:"limits"`
}

// DatabaseConfig selects the store backend. An empty DSN switches the API to
// the file-backed store, persisting at SnapshotPath when one is given.
type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
	SnapshotPath   string `json:"snapshot_path" yaml:"snapshot_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

// GatewayConfig points the service at the MCP gateway every run dials.
type GatewayConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	AuthToken  string `json:"auth_token" yaml:"auth_token"`
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"`
}

type RunsConfig struct {
	DefaultTimeoutSec      int `json:"default_timeout_sec" yaml:"default_timeout_sec"`
	DefaultProbeTimeoutSec int `json:"default_probe_timeout_sec" yaml:"default_probe_timeout_sec"`
	MaxParallelRuns        int `json:"max_parallel_runs" yaml:"max_parallel_runs"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// RateLimitConfig caps quick checks per user. With a Redis address the
// window is shared across replicas, otherwise it is tracked in memory.
type RateLimitConfig struct {
	QuickCheckRPM int    `json:"quick_check_rpm" yaml:"quick_check_rpm"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "check_session",
		},
		Gateway: GatewayConfig{
			BaseURL:    "http://localhost:8811",
			TimeoutSec: 60,
		},
		Runs: RunsConfig{
			DefaultTimeoutSec:      300,
			DefaultProbeTimeoutSec: 60,
			MaxParallelRuns:        2,
		},
		Observer: ObservabilityConfig{
			ServiceName: "check-api",
			SampleRatio: 1,
		},
		Limits: RateLimitConfig{
			QuickCheckRPM: 6,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decodeConfig(path, data, &cfg); err != nil {
		return cfg, err
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

// decodeConfig picks the codec by extension and, for anything
// unrecognized, tries yaml then json.
func decodeConfig(path string, data []byte, cfg *ServerConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
	default:
		if yaml.Unmarshal(data, cfg) == nil {
			return nil
		}
		if json.Unmarshal(data, cfg) == nil {
			return nil
		}
		return errors.New("config format not recognized (expected yaml/json)")
	}
	return nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	cfg.ListenAddr = orDefault(cfg.ListenAddr, ":8080")
	cfg.Database.MaxConns = positiveOr(cfg.Database.MaxConns, 10)
	cfg.Database.MigrationsPath = orDefault(cfg.Database.MigrationsPath, "./migrations")
	cfg.Auth.CookieName = orDefault(cfg.Auth.CookieName, "check_session")
	cfg.Auth.SessionTTL = orDefault(cfg.Auth.SessionTTL, "8h")
	cfg.Gateway.BaseURL = orDefault(cfg.Gateway.BaseURL, "http://localhost:8811")
	cfg.Gateway.TimeoutSec = positiveOr(cfg.Gateway.TimeoutSec, 60)
	cfg.Runs.DefaultTimeoutSec = positiveOr(cfg.Runs.DefaultTimeoutSec, 300)
	cfg.Runs.DefaultProbeTimeoutSec = positiveOr(cfg.Runs.DefaultProbeTimeoutSec, 60)
	cfg.Runs.MaxParallelRuns = positiveOr(cfg.Runs.MaxParallelRuns, 2)
	cfg.Observer.SampleRatio = positiveOr(cfg.Observer.SampleRatio, 1)
	if cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	cfg.Observer.ServiceName = orDefault(cfg.Observer.ServiceName, "check-api")
	cfg.Limits.QuickCheckRPM = positiveOr(cfg.Limits.QuickCheckRPM, 6)
}

// orDefault keeps value unless it is blank after trimming.
func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// positiveOr keeps value unless it is zero or negative.
func positiveOr[T int | int32 | float64](value, fallback T) T {
	if value <= 0 {
		return fallback
	}
	return value
}
