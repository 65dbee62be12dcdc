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

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// Audit writes a structured log line for every dispatch and its
// resulting change count. It never cancels.
type Audit struct {
	logger *slog.Logger
}

// NewAudit builds the middleware.
func NewAudit(logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Audit{logger: logger}
}

// Name implements Middleware.
func (a *Audit) Name() string { return "audit" }

// BeforeAction logs the incoming action at debug level.
func (a *Audit) BeforeAction(_ context.Context, action *state.Action, _ state.Snapshot) Decision {
	a.logger.Debug("action received",
		slog.String("action_id", action.ID),
		slog.String("action_type", string(action.Type)),
		slog.String("user_id", action.UserID),
		slog.String("batch_id", action.BatchID))
	return Proceed()
}

// AfterAction logs the applied action with its change count.
func (a *Audit) AfterAction(_ context.Context, action *state.Action, _ state.Snapshot, changes []state.Change) {
	a.logger.Info("action applied",
		slog.String("action_id", action.ID),
		slog.String("action_type", string(action.Type)),
		slog.Int("change_count", len(changes)))
}
