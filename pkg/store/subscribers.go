// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// SubscriberFunc receives the previous and fresh values at the
// subscribed path after a dispatch that touched it.
type SubscriberFunc func(path string, oldValue, newValue any)

// FilterFunc may veto a notification after inspecting the fresh value.
type FilterFunc func(value any) bool

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithFilter attaches a veto predicate to the subscription.
func WithFilter(filter FilterFunc) SubscribeOption {
	return func(s *subscription) { s.filter = filter }
}

type subscription struct {
	id       string
	path     string
	callback SubscriberFunc
	filter   FilterFunc
}

// subscriberRegistry maps state paths to subscriptions and fans out
// notifications after each dispatch.
//
// A subscriber registered on a path fires when that exact path changes
// or when any descendant of it changes; it fires at most once per
// dispatch cycle regardless of how many matching changes the cycle
// produced.
//
// # Thread Safety
//
// Safe for concurrent use. Subscribe/unsubscribe may race with a
// notification fan-out; the fan-out works on a point-in-time copy of
// the matching set.
type subscriberRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*subscription
	logger *slog.Logger
}

func newSubscriberRegistry(logger *slog.Logger) *subscriberRegistry {
	return &subscriberRegistry{
		byID:   make(map[string]*subscription),
		logger: logger,
	}
}

func (r *subscriberRegistry) subscribe(path string, callback SubscriberFunc, opts ...SubscribeOption) (func(), error) {
	if err := state.ValidateReadPath(path); err != nil {
		return nil, err
	}
	if callback == nil {
		return nil, fmt.Errorf("subscriber callback must not be nil")
	}

	sub := &subscription{
		id:       uuid.NewString(),
		path:     path,
		callback: callback,
	}
	for _, opt := range opts {
		opt(sub)
	}

	r.mu.Lock()
	r.byID[sub.id] = sub
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.byID, sub.id)
		r.mu.Unlock()
	}, nil
}

// notify fans changed-path notifications out to every matching
// subscriber and waits for all callbacks to finish. Callbacks run
// concurrently with each other; a panicking or slow callback can delay
// but never abort the dispatch cycle or its peers.
func (r *subscriberRegistry) notify(changes []state.Change, oldSnapshot, newSnapshot state.Snapshot) int {
	matched := r.match(changes)
	if len(matched) == 0 {
		return 0
	}

	var g errgroup.Group
	for _, sub := range matched {
		g.Go(func() error {
			oldValue, _ := state.GetAtPath(oldSnapshot, sub.path)
			newValue, _ := state.GetAtPath(newSnapshot, sub.path)
			if sub.filter != nil && !r.runFilter(sub, newValue) {
				return nil
			}
			r.runCallback(sub, oldValue, newValue)
			return nil
		})
	}
	// Callbacks never return errors; panics are recovered and logged.
	_ = g.Wait()
	return len(matched)
}

// match returns each subscription whose path is touched by at least one
// change, deduplicated.
func (r *subscriberRegistry) match(changes []state.Change) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*subscription
	for _, sub := range r.byID {
		for _, change := range changes {
			if pathMatches(sub.path, change.Path) {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched
}

func (r *subscriberRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *subscriberRegistry) runFilter(sub *subscription, value any) (pass bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber filter panicked",
				slog.String("path", sub.path),
				slog.Any("panic", rec))
			pass = false
		}
	}()
	return sub.filter(value)
}

func (r *subscriberRegistry) runCallback(sub *subscription, oldValue, newValue any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber callback panicked",
				slog.String("path", sub.path),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	sub.callback(sub.path, oldValue, newValue)
}

// pathMatches reports whether a subscription on subPath should fire for
// a change at changePath: the subscribed path is the changed path
// itself or an ancestor prefix of it. The empty subscription path is
// the root and matches everything.
func pathMatches(subPath, changePath string) bool {
	if subPath == "" {
		return true
	}
	if subPath == changePath {
		return true
	}
	return strings.HasPrefix(changePath, subPath+".")
}
