// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the engine configuration.
//
// Priority is env > file > defaults. The file may be YAML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/PolycarpusTack/canvasstate/pkg/history"
	"github.com/PolycarpusTack/canvasstate/pkg/logging"
	"github.com/PolycarpusTack/canvasstate/pkg/middleware"
	"github.com/PolycarpusTack/canvasstate/pkg/persistence"
	"github.com/PolycarpusTack/canvasstate/pkg/store"
)

// EngineConfig is the top-level configuration for the state engine.
//
// Thread Safety: safe to read concurrently; not safe to modify after
// creation.
type EngineConfig struct {
	// Queue contains dispatch queue settings.
	Queue QueueSettings `json:"queue" yaml:"queue"`

	// History contains undo/redo log bounds.
	History HistorySettings `json:"history" yaml:"history"`

	// Security contains rate-limit and tamper-check settings.
	Security SecuritySettings `json:"security" yaml:"security"`

	// Budget contains per-action time budget settings.
	Budget BudgetSettings `json:"budget" yaml:"budget"`

	// Autosave contains autosave trigger settings.
	Autosave AutosaveSettings `json:"autosave" yaml:"autosave"`

	// Persistence selects and configures the storage backend.
	Persistence PersistenceSettings `json:"persistence" yaml:"persistence"`

	// Logging contains log output settings.
	Logging LoggingSettings `json:"logging" yaml:"logging"`
}

// QueueSettings contains dispatch queue settings.
type QueueSettings struct {
	Size int `json:"size" yaml:"size" validate:"gte=0"`
}

// HistorySettings contains undo/redo log bounds.
type HistorySettings struct {
	MaxEntries  int `json:"max_entries" yaml:"max_entries" validate:"gte=0"`
	MaxMemoryMB int `json:"max_memory_mb" yaml:"max_memory_mb" validate:"gte=0"`
}

// SecuritySettings contains rate-limit and tamper-check settings.
type SecuritySettings struct {
	ActionsPerSecond float64       `json:"actions_per_second" yaml:"actions_per_second" validate:"gte=0"`
	Burst            int           `json:"burst" yaml:"burst" validate:"gte=0"`
	MaxPastSkew      time.Duration `json:"max_past_skew" yaml:"max_past_skew"`
	MaxFutureSkew    time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

// BudgetSettings contains per-action time budgets.
type BudgetSettings struct {
	ActionBudget  time.Duration `json:"action_budget" yaml:"action_budget"`
	HistoryBudget time.Duration `json:"history_budget" yaml:"history_budget"`
	Strict        bool          `json:"strict" yaml:"strict"`
}

// AutosaveSettings contains autosave trigger settings.
type AutosaveSettings struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// PersistenceSettings selects the storage backend.
type PersistenceSettings struct {
	// Backend is one of "badger", "file", "memory", or "none".
	Backend string `json:"backend" yaml:"backend" validate:"oneof=badger file memory none"`
	Path    string `json:"path" yaml:"path"`
	SaveKey string `json:"save_key" yaml:"save_key"`
}

// LoggingSettings contains log output settings.
type LoggingSettings struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `json:"dir" yaml:"dir"`
	Quiet bool   `json:"quiet" yaml:"quiet"`
}

// Default returns the reference configuration.
func Default() EngineConfig {
	return EngineConfig{
		Queue: QueueSettings{Size: store.DefaultQueueSize},
		History: HistorySettings{
			MaxEntries:  1000,
			MaxMemoryMB: 100,
		},
		Security: SecuritySettings{
			ActionsPerSecond: 100,
			Burst:            100,
			MaxPastSkew:      60 * time.Second,
			MaxFutureSkew:    300 * time.Second,
		},
		Budget: BudgetSettings{
			ActionBudget:  16 * time.Millisecond,
			HistoryBudget: 100 * time.Millisecond,
		},
		Autosave: AutosaveSettings{Interval: 300 * time.Second},
		Persistence: PersistenceSettings{
			Backend: "none",
			SaveKey: store.DefaultSaveKey,
		},
		Logging: LoggingSettings{Level: "info"},
	}
}

// Load merges configuration with priority env > file > defaults.
//
// # Inputs
//
//	path - Optional YAML or JSON file. Empty or missing files are fine.
//
// # Outputs
//
//	EngineConfig - Merged configuration.
//	error - Non-nil if the file exists but is invalid, or validation fails.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *EngineConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadEnv(cfg *EngineConfig) {
	if v := os.Getenv("CANVAS_QUEUE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Size = i
		}
	}
	if v := os.Getenv("CANVAS_HISTORY_MAX_ENTRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.History.MaxEntries = i
		}
	}
	if v := os.Getenv("CANVAS_HISTORY_MAX_MEMORY_MB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.History.MaxMemoryMB = i
		}
	}
	if v := os.Getenv("CANVAS_ACTIONS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Security.ActionsPerSecond = f
		}
	}
	if v := os.Getenv("CANVAS_AUTOSAVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Autosave.Interval = d
		}
	}
	if v := os.Getenv("CANVAS_BUDGET_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Budget.Strict = b
		}
	}
	if v := os.Getenv("CANVAS_PERSISTENCE_BACKEND"); v != "" {
		cfg.Persistence.Backend = v
	}
	if v := os.Getenv("CANVAS_PERSISTENCE_PATH"); v != "" {
		cfg.Persistence.Path = v
	}
	if v := os.Getenv("CANVAS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// validate is the shared validator instance for config structs.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field constraints.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(&c); err != nil {
		return err
	}
	if c.Persistence.Backend == "badger" && c.Persistence.Path == "" {
		return fmt.Errorf("persistence backend %q requires a path", c.Persistence.Backend)
	}
	if c.Persistence.Backend == "file" && c.Persistence.Path == "" {
		return fmt.Errorf("persistence backend %q requires a path", c.Persistence.Backend)
	}
	if c.Security.MaxPastSkew < 0 || c.Security.MaxFutureSkew < 0 {
		return fmt.Errorf("timestamp skew bounds must not be negative")
	}
	return nil
}

// LogLevel converts the configured level name to a slog level.
func (c EngineConfig) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the engine logger from the logging settings.
func (c EngineConfig) NewLogger(component string) *slog.Logger {
	return logging.New(logging.Config{
		Level:     c.LogLevel(),
		Component: component,
		LogDir:    c.Logging.Dir,
		Quiet:     c.Logging.Quiet,
	})
}

// OpenBackend constructs the configured persistence backend. A "none"
// backend returns nil, which disables persistence in the store.
func (c EngineConfig) OpenBackend(logger *slog.Logger) (persistence.Backend, error) {
	switch c.Persistence.Backend {
	case "badger":
		bcfg := persistence.DefaultBadgerConfig(c.Persistence.Path)
		bcfg.Logger = logger
		return persistence.NewBadgerBackend(bcfg)
	case "memory":
		bcfg := persistence.InMemoryBadgerConfig()
		bcfg.Logger = logger
		return persistence.NewBadgerBackend(bcfg)
	case "file":
		return persistence.NewFileBackend(c.Persistence.Path)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend)
	}
}

// StoreConfig maps the engine configuration onto a store configuration.
// Backend and logger are injected by the caller because they carry
// resources the config layer does not own.
func (c EngineConfig) StoreConfig(backend persistence.Backend, logger *slog.Logger) store.Config {
	return store.Config{
		QueueSize: c.Queue.Size,
		History: history.Config{
			MaxEntries:  c.History.MaxEntries,
			MaxMemoryMB: c.History.MaxMemoryMB,
			Logger:      logger,
		},
		Backend: backend,
		SaveKey: c.Persistence.SaveKey,
		Security: middleware.SecurityConfig{
			ActionsPerSecond: c.Security.ActionsPerSecond,
			Burst:            c.Security.Burst,
			MaxPastSkew:      c.Security.MaxPastSkew,
			MaxFutureSkew:    c.Security.MaxFutureSkew,
			Logger:           logger,
		},
		Budget: middleware.BudgetConfig{
			ActionBudget:  c.Budget.ActionBudget,
			HistoryBudget: c.Budget.HistoryBudget,
			Strict:        c.Budget.Strict,
			Logger:        logger,
		},
		Autosave: middleware.AutosaveConfig{
			Interval: c.Autosave.Interval,
			Logger:   logger,
		},
		Logger: logger,
	}
}
