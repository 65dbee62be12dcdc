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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// SecurityConfig configures the Security middleware.
type SecurityConfig struct {
	// ActionsPerSecond caps the sustained per-user dispatch rate.
	ActionsPerSecond float64

	// Burst is the instantaneous allowance per user. Defaults to
	// ActionsPerSecond so a full second's quota may arrive at once.
	Burst int

	// MaxPastSkew rejects actions stamped further in the past.
	MaxPastSkew time.Duration

	// MaxFutureSkew rejects actions stamped further in the future.
	MaxFutureSkew time.Duration

	Logger *slog.Logger
}

// DefaultSecurityConfig returns the reference limits: 100 actions per
// second per user, timestamps accepted within [-60s, +300s] of now.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		ActionsPerSecond: 100,
		Burst:            100,
		MaxPastSkew:      60 * time.Second,
		MaxFutureSkew:    300 * time.Second,
	}
}

// Security enforces per-user rate limits and basic tamper checks.
// Violations cancel the action; they are never errors.
//
// # Thread Safety
//
// Safe for concurrent use. The limiter table is mutex-guarded; the
// limiters themselves are internally synchronized.
type Security struct {
	cfg      SecurityConfig
	now      func() time.Time
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSecurity builds the middleware. Zero-value config fields fall back
// to the defaults.
func NewSecurity(cfg SecurityConfig) *Security {
	def := DefaultSecurityConfig()
	if cfg.ActionsPerSecond <= 0 {
		cfg.ActionsPerSecond = def.ActionsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.ActionsPerSecond)
	}
	if cfg.MaxPastSkew <= 0 {
		cfg.MaxPastSkew = def.MaxPastSkew
	}
	if cfg.MaxFutureSkew <= 0 {
		cfg.MaxFutureSkew = def.MaxFutureSkew
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Security{
		cfg:      cfg,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name implements Middleware.
func (s *Security) Name() string { return "security" }

// BeforeAction applies tamper checks then the per-user rate limit.
func (s *Security) BeforeAction(_ context.Context, action *state.Action, _ state.Snapshot) Decision {
	if action.ID == "" || action.Type == "" {
		return Cancelled("action is missing required fields")
	}
	if action.Payload == nil {
		return Cancelled("action payload is not a map")
	}

	now := s.now()
	if action.Timestamp.Before(now.Add(-s.cfg.MaxPastSkew)) {
		return Cancelled(fmt.Sprintf("timestamp more than %s in the past", s.cfg.MaxPastSkew))
	}
	if action.Timestamp.After(now.Add(s.cfg.MaxFutureSkew)) {
		return Cancelled(fmt.Sprintf("timestamp more than %s in the future", s.cfg.MaxFutureSkew))
	}

	if !s.limiterFor(action.UserID).Allow() {
		s.cfg.Logger.Warn("rate limit exceeded",
			slog.String("user_id", action.UserID),
			slog.String("action_type", string(action.Type)))
		return Cancelled("rate limit exceeded")
	}
	return Proceed()
}

// AfterAction implements Middleware. Security has no post-mutation work.
func (s *Security) AfterAction(context.Context, *state.Action, state.Snapshot, []state.Change) {
}

func (s *Security) limiterFor(userID string) *rate.Limiter {
	if userID == "" {
		userID = "anonymous"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.ActionsPerSecond), s.cfg.Burst)
		s.limiters[userID] = limiter
	}
	return limiter
}
