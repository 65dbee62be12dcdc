// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// Integrity re-validates global invariants after each mutation: every
// parent reference resolves, roots are not also children, and the
// selection references only live components. Violations are logged with
// full context but never rolled back; the mutation has already
// committed, so this is detection, not prevention.
type Integrity struct {
	logger     *slog.Logger
	violations atomic.Int64
}

// NewIntegrity builds the middleware.
func NewIntegrity(logger *slog.Logger) *Integrity {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Integrity{logger: logger}
}

// Name implements Middleware.
func (i *Integrity) Name() string { return "integrity" }

// BeforeAction implements Middleware. Integrity audits after only.
func (i *Integrity) BeforeAction(context.Context, *state.Action, state.Snapshot) Decision {
	return Proceed()
}

// AfterAction audits the committed snapshot.
func (i *Integrity) AfterAction(_ context.Context, action *state.Action, snapshot state.Snapshot, _ []state.Change) {
	for _, finding := range AuditSnapshot(snapshot) {
		i.violations.Add(1)
		i.logger.Warn("state integrity violation",
			slog.String("action_id", action.ID),
			slog.String("action_type", string(action.Type)),
			slog.String("finding", finding))
	}
}

// ViolationCount reports the total findings since construction.
func (i *Integrity) ViolationCount() int64 {
	return i.violations.Load()
}

// AuditSnapshot inspects a snapshot and returns human-readable findings, one
// per violated invariant. An empty result means the snapshot is
// consistent.
func AuditSnapshot(snapshot state.Snapshot) []string {
	var findings []string

	components := componentMap(snapshot)
	parents := parentMap(snapshot)

	for child, rawParent := range parents {
		parent, _ := rawParent.(string)
		if _, ok := components[child]; !ok {
			findings = append(findings,
				fmt.Sprintf("parent_map references unknown child %q", child))
		}
		if _, ok := components[parent]; !ok {
			findings = append(findings,
				fmt.Sprintf("component %q has unknown parent %q", child, parent))
		}
	}

	if raw, ok := state.GetAtPath(snapshot, "components.root_components"); ok {
		if roots, ok := raw.([]any); ok {
			for _, rawID := range roots {
				id, _ := rawID.(string)
				if _, ok := components[id]; !ok {
					findings = append(findings,
						fmt.Sprintf("root_components references unknown component %q", id))
				}
				if _, isChild := parents[id]; isChild {
					findings = append(findings,
						fmt.Sprintf("component %q is both a root and a child", id))
				}
			}
		}
	}

	if raw, ok := state.GetAtPath(snapshot, "selection.selected_ids"); ok {
		if selected, ok := raw.([]any); ok {
			for _, rawID := range selected {
				id, _ := rawID.(string)
				if _, ok := components[id]; !ok {
					findings = append(findings,
						fmt.Sprintf("selection references deleted component %q", id))
				}
			}
		}
	}

	return findings
}
