// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GraphConfig holds the Graph API credentials and the mailbox to scan.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Mailbox      string `yaml:"mailbox"`
}

// Config holds all configuration for the forwarding service.
type Config struct {
	Graph GraphConfig

	// Graph endpoint, overridable for testing.
	GraphBaseURL string

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL   string
	AuditQueue string

	// Orchestrator
	Timezone        string
	ConnectAttempts int
	ConnectBackoff  time.Duration

	// Control API
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Graph struct {
		TenantID     string `yaml:"tenant_id"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		Mailbox      string `yaml:"mailbox"`
	} `yaml:"graph"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Audit string `yaml:"audit"`
		} `yaml:"queues"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Graph: GraphConfig{
			TenantID:     raw.Graph.TenantID,
			ClientID:     raw.Graph.ClientID,
			ClientSecret: raw.Graph.ClientSecret,
			Mailbox:      raw.Graph.Mailbox,
		},
		GraphBaseURL:    envOrDefault("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
		DatabaseURL:     firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/docushuttle")),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		AuditQueue:      firstNonEmpty(raw.Redis.Queues.Audit, envOrDefault("AUDIT_QUEUE", "forward-audit")),
		Timezone:        envOrDefault("TIMEZONE", "UTC"),
		ConnectAttempts: envOrDefaultInt("CONNECT_ATTEMPTS", 3),
		ConnectBackoff:  envOrDefaultDuration("CONNECT_BACKOFF", time.Second),
		Port:            envOrDefaultInt("PORT", 8080),
	}

	if cfg.Graph.TenantID == "" || cfg.Graph.ClientID == "" || cfg.Graph.ClientSecret == "" {
		return nil, fmt.Errorf("graph credentials missing: check config.yaml and environment variables")
	}
	if cfg.Graph.Mailbox == "" {
		return nil, fmt.Errorf("graph.mailbox is required: the mailbox whose Sent Items are scanned")
	}

	return cfg, nil
}

// Location resolves the configured timezone for day-granularity checks.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
