// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// measureWindow is the rolling sample count kept per action type.
const measureWindow = 100

// summaryEvery is how many measured actions pass between summary log
// lines.
const summaryEvery = 100

// TypeMetrics is the aggregated view of one action type's samples.
type TypeMetrics struct {
	Count     int     `json:"count"`
	AverageMs float64 `json:"average_ms"`
	MaxMs     float64 `json:"max_ms"`
	LastMs    float64 `json:"last_ms"`
}

// Measure records actual wall-clock duration per action type over a
// rolling window, flags outliers against the enforcement budget, and
// periodically emits a summary.
//
// # Thread Safety
//
// Safe for concurrent use; Metrics may be called from any goroutine
// while the dispatch worker measures.
type Measure struct {
	budget *Budget
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	starts   map[string]time.Time
	samples  map[state.ActionType][]float64
	counts   map[state.ActionType]int
	measured int
}

// NewMeasure builds the middleware. The budget middleware supplies the
// outlier thresholds; nil disables outlier flagging.
func NewMeasure(budget *Budget, logger *slog.Logger) *Measure {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Measure{
		budget:  budget,
		logger:  logger,
		now:     time.Now,
		starts:  make(map[string]time.Time),
		samples: make(map[state.ActionType][]float64),
		counts:  make(map[state.ActionType]int),
	}
}

// Name implements Middleware.
func (m *Measure) Name() string { return "measure" }

// BeforeAction stamps the measurement start.
func (m *Measure) BeforeAction(_ context.Context, action *state.Action, _ state.Snapshot) Decision {
	m.mu.Lock()
	m.starts[action.ID] = m.now()
	m.mu.Unlock()
	return Proceed()
}

// AfterAction computes the duration, folds it into the rolling window,
// and flags outliers.
func (m *Measure) AfterAction(_ context.Context, action *state.Action, _ state.Snapshot, _ []state.Change) {
	m.mu.Lock()
	start, ok := m.starts[action.ID]
	delete(m.starts, action.ID)
	if !ok {
		m.mu.Unlock()
		return
	}
	elapsed := m.now().Sub(start)
	elapsedMs := float64(elapsed) / float64(time.Millisecond)

	window := append(m.samples[action.Type], elapsedMs)
	if len(window) > measureWindow {
		window = window[len(window)-measureWindow:]
	}
	m.samples[action.Type] = window
	m.counts[action.Type]++
	m.measured++
	emitSummary := m.measured%summaryEvery == 0
	m.mu.Unlock()

	if m.budget != nil {
		budget := m.budget.cfg.ActionBudget
		if action.Type.IsHistoryControl() {
			budget = m.budget.cfg.HistoryBudget
		}
		if elapsed > budget {
			attrs := []any{
				slog.String("action_type", string(action.Type)),
				slog.Duration("elapsed", elapsed),
				slog.Duration("budget", budget),
			}
			if estimate, ok := action.Metadata[EstimatedCostKey].(float64); ok {
				attrs = append(attrs, slog.Float64("estimated_ms", estimate))
			}
			m.logger.Warn("action duration outlier", attrs...)
		}
	}

	if emitSummary {
		m.logSummary()
	}
}

// Metrics returns the aggregated rolling-window view per action type.
func (m *Measure) Metrics() map[state.ActionType]TypeMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[state.ActionType]TypeMetrics, len(m.samples))
	for t, window := range m.samples {
		if len(window) == 0 {
			continue
		}
		var sum, max float64
		for _, ms := range window {
			sum += ms
			if ms > max {
				max = ms
			}
		}
		out[t] = TypeMetrics{
			Count:     m.counts[t],
			AverageMs: sum / float64(len(window)),
			MaxMs:     max,
			LastMs:    window[len(window)-1],
		}
	}
	return out
}

func (m *Measure) logSummary() {
	for t, metrics := range m.Metrics() {
		m.logger.Info("action timing summary",
			slog.String("action_type", string(t)),
			slog.Int("count", metrics.Count),
			slog.Float64("average_ms", metrics.AverageMs),
			slog.Float64("max_ms", metrics.MaxMs))
	}
}
