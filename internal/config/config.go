// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package config loads layered configuration with Koanf v2:
//
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (CONFIG_PATH or default paths)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults. All scoring constants are plain
// configuration so deployments and tests can parameterize them.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/feedtuner/internal/collab"
	"github.com/tomtom215/feedtuner/internal/pipeline"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/retrieval"
	"github.com/tomtom215/feedtuner/internal/scoring"
	"github.com/tomtom215/feedtuner/internal/store"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/feedtuner/config.yaml",
	"/etc/feedtuner/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	// Host is the listen address.
	// Default: 0.0.0.0
	Host string `koanf:"host"`

	// Port is the listen port.
	// Default: 8470
	Port int `koanf:"port"`

	// Timeout bounds request read/write.
	// Default: 30s
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins are allowed CORS origins.
	// Default: ["*"]
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs is the per-IP request budget per window.
	// Default: 100
	RateLimitReqs int `koanf:"rate_limit_reqs"`

	// RateLimitWindow is the rate limit window.
	// Default: 1m
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format: json or console.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file:line in logs.
	// Default: false
	Caller bool `koanf:"caller"`
}

// CatalogConfig holds corpus loading settings.
type CatalogConfig struct {
	// Path is the JSON catalog file supplied by the content provider.
	// Default: ./catalog.json
	Path string `koanf:"path"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	// RingSize bounds the in-memory event ring.
	// Default: 256
	RingSize int `koanf:"ring_size"`
}

// CollaboratorsConfig holds the three external collaborator clients.
type CollaboratorsConfig struct {
	Intent  collab.ClientConfig `koanf:"intent"`
	Rerank  collab.ClientConfig `koanf:"rerank"`
	Cleanup collab.ClientConfig `koanf:"cleanup"`
}

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Catalog       CatalogConfig       `koanf:"catalog"`
	Store         store.Config        `koanf:"store"`
	Audit         AuditConfig         `koanf:"audit"`
	Scoring       scoring.Params      `koanf:"scoring"`
	Retrieval     retrieval.Config    `koanf:"retrieval"`
	Profile       profile.Config      `koanf:"profile"`
	Pipeline      pipeline.Config     `koanf:"pipeline"`
	Collaborators CollaboratorsConfig `koanf:"collaborators"`
}

// defaultConfig returns a Config with all defaults applied. Collaborator
// endpoints default to local sidecar ports.
func defaultConfig() *Config {
	intent := collab.DefaultClientConfig()
	intent.BaseURL = "http://127.0.0.1:8471"
	rerank := collab.DefaultClientConfig()
	rerank.BaseURL = "http://127.0.0.1:8472"
	cleanup := collab.DefaultClientConfig()
	cleanup.BaseURL = "http://127.0.0.1:8473"

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8470,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Catalog: CatalogConfig{
			Path: "./catalog.json",
		},
		Store: store.DefaultConfig(),
		Audit: AuditConfig{
			RingSize: 256,
		},
		Scoring:   scoring.DefaultParams(),
		Retrieval: retrieval.DefaultConfig(),
		Profile:   profile.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Collaborators: CollaboratorsConfig{
			Intent:  intent,
			Rerank:  rerank,
			Cleanup: cleanup,
		},
	}
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if c.Audit.RingSize <= 0 {
		return fmt.Errorf("audit.ring_size must be positive, got %d", c.Audit.RingSize)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Collaborators.Intent.Validate(); err != nil {
		return fmt.Errorf("collaborators.intent: %w", err)
	}
	if err := c.Collaborators.Rerank.Validate(); err != nil {
		return fmt.Errorf("collaborators.rerank: %w", err)
	}
	if err := c.Collaborators.Cleanup.Validate(); err != nil {
		return fmt.Errorf("collaborators.cleanup: %w", err)
	}
	return nil
}

// LoadWithKoanf loads configuration using Koanf v2 with layered
// sources. This is the only way configuration enters the process.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// FEEDTUNER_SERVER_PORT -> server.port
	// FEEDTUNER_SCORING_VETO_THRESHOLD -> scoring.veto_threshold
	envProvider := env.Provider("FEEDTUNER_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches CONFIG_PATH, then the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when they arrive from environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars arrive as strings but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envSectionPrefixes maps the first env var segment to a config
// section. The remainder of the variable name becomes the field key, so
// FEEDTUNER_COLLABORATORS_INTENT_BASE_URL -> collaborators.intent.base_url.
var envSectionPrefixes = map[string]string{
	"server":    "server",
	"logging":   "logging",
	"catalog":   "catalog",
	"store":     "store",
	"audit":     "audit",
	"scoring":   "scoring",
	"retrieval": "retrieval",
	"profile":   "profile",
	"pipeline":  "pipeline",
}

// collabSubsections are nested one level deeper than plain sections.
var collabSubsections = []string{"intent", "rerank", "cleanup"}

// envTransformFunc transforms environment variable names (after the
// FEEDTUNER_ prefix) to koanf config paths.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "FEEDTUNER_"))

	if rest, ok := strings.CutPrefix(key, "collaborators_"); ok {
		for _, sub := range collabSubsections {
			if field, ok := strings.CutPrefix(rest, sub+"_"); ok {
				return "collaborators." + sub + "." + field
			}
		}
		return ""
	}

	for prefix, section := range envSectionPrefixes {
		if field, ok := strings.CutPrefix(key, prefix+"_"); ok {
			return section + "." + field
		}
	}
	// Unknown variables are ignored.
	return ""
}
