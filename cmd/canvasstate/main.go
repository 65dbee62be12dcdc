// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command canvasstate runs a scripted editing session against the state
// engine and prints the resulting history timeline and debug report.
//
// Usage:
//
//	go run ./cmd/canvasstate
//	go run ./cmd/canvasstate -config engine.yaml
//	CANVAS_PERSISTENCE_BACKEND=badger CANVAS_PERSISTENCE_PATH=/tmp/canvas \
//	    go run ./cmd/canvasstate
//
// With a persistent backend configured, the session state survives
// restarts: saved snapshots are migrated to the current schema version
// and loaded back on the next run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/PolycarpusTack/canvasstate/pkg/config"
	"github.com/PolycarpusTack/canvasstate/pkg/persistence"
	"github.com/PolycarpusTack/canvasstate/pkg/state"
	"github.com/PolycarpusTack/canvasstate/pkg/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#1D9EA3")).Width(22)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	configPath := flag.String("config", "", "Path to engine config file (YAML or JSON)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := run(*configPath, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "canvasstate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := cfg.NewLogger("canvasstate")

	backend, err := cfg.OpenBackend(logger)
	if err != nil {
		return err
	}
	if backend != nil {
		defer backend.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storeCfg := cfg.StoreConfig(backend, logger)
	if backend != nil {
		saved, err := loadSavedState(ctx, backend, storeCfg.SaveKey, logger)
		if err != nil {
			return err
		}
		storeCfg.InitialState = saved
	}

	s, err := store.New(storeCfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := s.Close(closeCtx); err != nil {
			logger.Error("store close failed", "error", err)
		}
	}()

	fmt.Println(titleStyle.Render("canvasstate — scripted session"))
	if err := runSession(ctx, s); err != nil {
		return err
	}

	printTimeline(s)
	printDebugReport(s)
	return nil
}

// loadSavedState loads and, if needed, migrates the previous session's
// snapshot.
func loadSavedState(ctx context.Context, backend persistence.Backend, key string, logger *slog.Logger) (state.Snapshot, error) {
	doc, found, err := backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load saved state: %w", err)
	}
	if !found {
		return nil, nil
	}

	migrator, err := persistence.NewMigrator(persistence.CurrentSchemaVersion, migrations(),
		persistence.WithBackupBackend(backend))
	if err != nil {
		return nil, err
	}
	migrated, err := migrator.Migrate(ctx, key, doc)
	if err != nil {
		return nil, fmt.Errorf("migrate saved state: %w", err)
	}
	logger.Info("restored previous session",
		"schema_version", persistence.DocumentVersion(migrated))
	return migrated, nil
}

// migrations lists the schema upgrade chain.
func migrations() []persistence.Migration {
	return []persistence.Migration{
		{
			From: 1,
			To:   2,
			// v1 stored the theme as a bare string.
			Transform: func(doc persistence.Document) (persistence.Document, error) {
				if name, ok := doc["theme"].(string); ok {
					doc["theme"] = map[string]any{"name": name, "dark_mode": false}
				}
				return doc, nil
			},
		},
	}
}

// runSession drives a small editing script: a fresh project, a batched
// form scaffold, a selection, a zoom, and one undo.
func runSession(ctx context.Context, s *store.Store) error {
	// Starting a new project makes the script idempotent across
	// restored sessions: components and canvas reset.
	if err := s.Dispatch(state.NewCreateProjectAction("demo", "")); err != nil {
		return err
	}
	if err := awaitIdle(ctx, s); err != nil {
		return err
	}

	batch := s.StartBatch("scaffold login form")
	actions := []*state.Action{
		state.NewAddComponentAction(map[string]any{
			"id": "login-form", "type": "panel",
			"style": map[string]any{"left": 100.0, "top": 80.0, "width": 320.0, "height": 240.0},
		}, ""),
		state.NewAddComponentAction(map[string]any{"id": "username", "type": "input"}, "login-form"),
		state.NewAddComponentAction(map[string]any{"id": "password", "type": "input"}, "login-form"),
		state.NewAddComponentAction(map[string]any{"id": "submit", "type": "button"}, "login-form"),
	}
	for _, action := range actions {
		if err := s.Dispatch(action); err != nil {
			return err
		}
	}
	// EndBatch drains the pipeline itself before sealing the entry.
	s.EndBatch(batch)

	if err := s.Dispatch(state.NewSelectComponentAction("submit", false)); err != nil {
		return err
	}
	if err := s.Dispatch(state.NewZoomCanvasAction(0.5)); err != nil {
		return err
	}
	if err := awaitIdle(ctx, s); err != nil {
		return err
	}

	s.Undo() // back to zoom 1.0
	return awaitIdle(ctx, s)
}

// awaitIdle polls until every dispatched action has fully processed:
// queue drained and no pre-state captures outstanding.
func awaitIdle(ctx context.Context, s *store.Store) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out waiting for dispatch queue to drain")
		case <-ticker.C:
			info := s.ExportDebugInfo()
			if info["queue_depth"] == 0 && info["pending_captures"] == 0 {
				return nil
			}
		}
	}
}

func printTimeline(s *store.Store) {
	fmt.Println()
	fmt.Println(titleStyle.Render("History"))
	for _, item := range s.History().Timeline(0, 20) {
		marker := "  "
		if item.IsCurrent {
			marker = "> "
		}
		line := fmt.Sprintf("%s%-40s %s", marker, item.Description,
			dimStyle.Render(fmt.Sprintf("(%s ×%d)", item.ActionType, item.Count)))
		fmt.Println(line)
	}
}

func printDebugReport(s *store.Store) {
	fmt.Println()
	fmt.Println(titleStyle.Render("Debug report"))
	info := s.ExportDebugInfo()
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s %v\n", keyStyle.Render(k), info[k])
	}
}
