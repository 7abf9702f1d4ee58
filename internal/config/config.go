// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package config loads the fleet's static configuration: the worker-type
// descriptor table and the domain defaults SPEC_FULL.md §6 names, layered
// defaults -> YAML file -> environment per the teacher's internal/config/koanf.go.
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

	"github.com/tomtom215/fleetkeeper/internal/fleet"
)

// DefaultConfigPaths lists the paths searched for a config file, in priority
// order. The first one found is used.
var DefaultConfigPaths = []string{
	"fleetkeeper.yaml",
	"fleetkeeper.yml",
	"/etc/fleetkeeper/fleetkeeper.yaml",
}

// ConfigPathEnvVar overrides the searched config file path.
const ConfigPathEnvVar = "FLEETKEEPER_CONFIG_PATH"

// WorkerTypeDescriptor is the YAML/env-loadable form of fleet.Descriptor.
type WorkerTypeDescriptor struct {
	Name   string            `koanf:"name"`
	Count  int               `koanf:"count"`
	Config map[string]string `koanf:"config"`
}

// DatabaseConfig is DatabaseWorker's domain configuration (spec.md §6's
// db_url/db_name/collection_name, repointed at the embedded DuckDB store).
type DatabaseConfig struct {
	Path  string `koanf:"path"`
	Table string `koanf:"collection_name"`
}

// QueueConfig is QueueWorker's domain configuration (spec.md §6's
// rabbitMqUrl/consumeQueue/produceQueue, repointed at NATS subjects).
type QueueConfig struct {
	BrokerURL                string `koanf:"rabbitMqUrl"`
	ProduceTopic             string `koanf:"produceQueue"`
	ConsumeTopic             string `koanf:"consumeQueue"`
	ConsumeCompensationTopic string `koanf:"consumeCompensationQueue"`
}

// HTTPConfig is HttpWorker's listen address and JWT secret.
type HTTPConfig struct {
	Addr      string `koanf:"addr"`
	JWTSecret string `koanf:"jwtSecret"`
}

// GraphQLConfig is GraphQLWorker's listen address and JWT secret.
type GraphQLConfig struct {
	Addr      string `koanf:"addr"`
	JWTSecret string `koanf:"jwtSecret"`
}

// IdempotencyConfig configures the Badger-backed idempotency cache
// (spec.md §6's redisUrl, repointed at an embedded KV store).
type IdempotencyConfig struct {
	Path string        `koanf:"path"`
	TTL  time.Duration `koanf:"ttl"`
}

// FleetConfig is the complete static configuration loaded at supervisor
// init, per spec.md §3: "descriptors are loaded at supervisor init and are
// immutable during the run."
type FleetConfig struct {
	WorkerTypes []WorkerTypeDescriptor `koanf:"workerTypes"`
	Database    DatabaseConfig         `koanf:"database"`
	Queue       QueueConfig            `koanf:"queue"`
	HTTP        HTTPConfig             `koanf:"http"`
	GraphQL     GraphQLConfig          `koanf:"graphql"`
	Idempotency IdempotencyConfig      `koanf:"idempotency"`
}

func defaultConfig() *FleetConfig {
	return &FleetConfig{
		WorkerTypes: []WorkerTypeDescriptor{
			{Name: string(fleet.TypeDatabase), Count: 1},
			{Name: string(fleet.TypeQueue), Count: 1},
			{Name: string(fleet.TypeHTTP), Count: 1},
			{Name: string(fleet.TypeGraphQL), Count: 1},
		},
		Database: DatabaseConfig{
			Path:  "/data/fleetkeeper.duckdb",
			Table: "projects",
		},
		Queue: QueueConfig{
			BrokerURL:                "nats://127.0.0.1:4222",
			ProduceTopic:             "crawl.trigger",
			ConsumeTopic:             "crawl.result",
			ConsumeCompensationTopic: "crawl.compensation",
		},
		HTTP: HTTPConfig{
			Addr: ":4000",
		},
		GraphQL: GraphQLConfig{
			Addr: ":4001",
		},
		Idempotency: IdempotencyConfig{
			Path: "/data/fleetkeeper-idempotency.badger",
			TTL:  24 * time.Hour,
		},
	}
}

// Load layers defaults, an optional YAML file (DefaultConfigPaths or
// FLEETKEEPER_CONFIG_PATH), and environment variables prefixed FLEETKEEPER_,
// mirroring the teacher's koanf.go load order.
func Load() (*FleetConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := resolveConfigPath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("FLEETKEEPER_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "FLEETKEEPER_")), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg FleetConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func resolveConfigPath() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Descriptors converts the loaded worker-type table into fleet.Descriptor
// values, skipping any name fleet.KnownTypes does not recognize (spec.md
// §9: an unknown worker type is an error on the wire, not a panic — the
// same tolerance applies to a typo'd config entry, which is dropped
// without being logged).
func (c *FleetConfig) Descriptors() []fleet.Descriptor {
	out := make([]fleet.Descriptor, 0, len(c.WorkerTypes))
	for _, d := range c.WorkerTypes {
		t := fleet.Type(d.Name)
		if _, ok := fleet.KnownTypes[t]; !ok {
			continue
		}
		out = append(out, fleet.Descriptor{Name: t, Count: d.Count, Config: d.Config})
	}
	return out
}
