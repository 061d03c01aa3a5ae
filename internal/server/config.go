package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"oai-compat/internal/probe"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Quota      QuotaConfig         `json:"quota" yaml:"quota"`
	Probe      ProbeConfig         `json:"probe" yaml:"probe"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
	// SnapshotPath backs the in-memory store when no DSN is configured.
	// Empty means no file persistence.
	SnapshotPath string `json:"snapshot_path" yaml:"snapshot_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

type QuotaConfig struct {
	SubmitRPM         int `json:"submit_rpm" yaml:"submit_rpm"`
	SubmitPerDay      int `json:"submit_per_day" yaml:"submit_per_day"`
	MaxParallelChecks int `json:"max_parallel_checks" yaml:"max_parallel_checks"`
}

type ProbeConfig struct {
	DefaultModel string `json:"default_model" yaml:"default_model"`
	TimeoutSec   int    `json:"timeout_sec" yaml:"timeout_sec"`
	HistoryLimit int    `json:"history_limit" yaml:"history_limit"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
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
			CookieName: "compat_session",
		},
		Quota: QuotaConfig{
			SubmitRPM:         6,
			SubmitPerDay:      60,
			MaxParallelChecks: 2,
		},
		Probe: ProbeConfig{
			TimeoutSec:   30,
			HistoryLimit: 50,
		},
		Observer: ObservabilityConfig{
			ServiceName: "compat-api",
			SampleRatio: 1,
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
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "compat_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if cfg.Quota.SubmitRPM <= 0 {
		cfg.Quota.SubmitRPM = 6
	}
	if cfg.Quota.SubmitPerDay <= 0 {
		cfg.Quota.SubmitPerDay = 60
	}
	if cfg.Quota.MaxParallelChecks <= 0 {
		cfg.Quota.MaxParallelChecks = 2
	}
	if strings.TrimSpace(cfg.Probe.DefaultModel) == "" {
		cfg.Probe.DefaultModel = probe.DefaultModel
	}
	if cfg.Probe.TimeoutSec <= 0 {
		cfg.Probe.TimeoutSec = 30
	}
	if cfg.Probe.HistoryLimit <= 0 {
		cfg.Probe.HistoryLimit = 50
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "compat-api"
	}
}
