// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads run settings and problem definitions for the worms
// command.
//
// Run settings (GrowConfig) resolve with priority env > file > defaults.
// A Problem describes the bodies, segments and criteria of one search and
// is built into engine values with Problem.Build.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/worms/pkg/logging"
	"github.com/AleutianAI/worms/services/worms/executor"
	"github.com/AleutianAI/worms/services/worms/search"
	"github.com/AleutianAI/worms/services/worms/telemetry"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate reports field errors by their YAML names.
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// validateStruct runs the tag validator and flattens its errors into one
// readable message.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), reflect.Indirect(reflect.ValueOf(v)).Type().Name()+".")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// =============================================================================
// Grow Configuration
// =============================================================================

// GrowConfig holds every setting of a search run.
//
// Thread Safety: safe to read concurrently; do not modify after loading.
type GrowConfig struct {
	// Search contains engine settings.
	Search SearchConfig `json:"search" yaml:"search"`

	// Logging contains log output settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry contains trace and metric exporter settings.
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`

	// MetricsAddr serves /metrics on this address when set, e.g. ":9090".
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

// SearchConfig contains engine settings.
type SearchConfig struct {
	// Threshold keeps chains scoring strictly below it.
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gt=0"`

	// MaxWorkers bounds concurrent jobs; 0 uses every available CPU.
	MaxWorkers int `json:"max_workers" yaml:"max_workers" validate:"gte=0"`

	// MemoryBudgetMB caps the composed prefix.
	MemoryBudgetMB int `json:"memory_budget_mb" yaml:"memory_budget_mb" validate:"gte=1"`

	// JobMultiplier is the number of jobs per worker.
	JobMultiplier int `json:"job_multiplier" yaml:"job_multiplier" validate:"gte=1"`

	// Expert downgrades overridable topology checks to warnings.
	Expert bool `json:"expert" yaml:"expert"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
	Quiet bool   `json:"quiet" yaml:"quiet"`
}

// DefaultGrowConfig returns the default configuration.
func DefaultGrowConfig() GrowConfig {
	return GrowConfig{
		Search: SearchConfig{
			Threshold:      search.DefaultThreshold,
			MaxWorkers:     0,
			MemoryBudgetMB: search.DefaultMemoryBudget >> 20,
			JobMultiplier:  search.DefaultJobMultiplier,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadGrowConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - path: YAML or JSON file; "" or a missing file means defaults only.
//
// Outputs:
//   - GrowConfig: the merged configuration.
//   - error: non-nil if the file is unreadable or the result is invalid.
func LoadGrowConfig(path string) (GrowConfig, error) {
	cfg := DefaultGrowConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *GrowConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return decode(data, cfg)
}

// decode accepts YAML, falling back to JSON for a clearer error.
func decode(data []byte, out any) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		if jsonErr := json.Unmarshal(data, out); jsonErr != nil {
			return fmt.Errorf("parse (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(cfg *GrowConfig) {
	if v := os.Getenv("WORMS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.Threshold = f
		}
	}
	if v := os.Getenv("WORMS_MAX_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxWorkers = i
		}
	}
	if v := os.Getenv("WORMS_MEMORY_BUDGET_MB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Search.MemoryBudgetMB = i
		}
	}
	if v := os.Getenv("WORMS_JOB_MULTIPLIER"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Search.JobMultiplier = i
		}
	}
	if v := os.Getenv("WORMS_EXPERT"); v != "" {
		cfg.Search.Expert = v == "true" || v == "1"
	}

	if v := os.Getenv("WORMS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("WORMS_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("WORMS_LOG_JSON"); v != "" {
		cfg.Logging.JSON = v == "true" || v == "1"
	}

	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		cfg.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("OTEL_METRICS_EXPORTER"); v != "" {
		cfg.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("WORMS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

// Validate checks that the configuration is valid.
func (c GrowConfig) Validate() error {
	return validateStruct(c)
}

// Workers resolves MaxWorkers, substituting the CPU count for 0.
func (c SearchConfig) Workers() int {
	if c.MaxWorkers == 0 {
		return executor.CPUCount()
	}
	return c.MaxWorkers
}

// Options converts the settings into search options.
func (c SearchConfig) Options(logger *slog.Logger) []search.Option {
	return []search.Option{
		search.WithThreshold(c.Threshold),
		search.WithMaxWorkers(c.Workers()),
		search.WithMemoryBudget(c.MemoryBudgetMB << 20),
		search.WithJobMultiplier(c.JobMultiplier),
		search.WithExpert(c.Expert),
		search.WithLogger(logger),
	}
}

// Logger builds the logger described by c for service, writing console
// output to out (stderr when nil).
func (c LoggingConfig) Logger(service string, out io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: service,
		JSON:    c.JSON,
		Quiet:   c.Quiet,
		Output:  out,
	}), nil
}
