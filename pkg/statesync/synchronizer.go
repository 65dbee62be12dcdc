// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package statesync decouples UI-widget updates from the state store
// through declarative path bindings.
//
// A binding ties one state path to one settable property on a target.
// Store notifications are enqueued and drained by a single worker, so
// property setters never run on the store's notification goroutines and
// never see two concurrent updates. Liveness is explicit: targets report
// Alive() and dead bindings are skipped, then removed by the periodic
// sweep — there is no reliance on garbage-collector behavior.
package statesync

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/PolycarpusTack/canvasstate/pkg/store"
)

// DefaultQueueSize bounds the update queue. Updates beyond capacity are
// dropped with a warning; the next notification for the same path
// carries the fresh value anyway.
const DefaultQueueSize = 256

// ErrSynchronizerClosed is returned by Bind after Close.
var ErrSynchronizerClosed = errors.New("statesync: closed")

// Target is the contract a bindable UI object must satisfy. The
// synchronizer assumes nothing else about the widget system.
type Target interface {
	// SetProperty assigns a named property. Called only from the
	// synchronizer worker, never concurrently.
	SetProperty(name string, value any) error

	// Alive reports whether the target still accepts updates. Dead
	// targets are skipped and swept.
	Alive() bool
}

// Transformer converts a state value into the property value to set.
// Nil means identity.
type Transformer func(value any) (any, error)

// StateSource is the slice of the store API the synchronizer consumes.
type StateSource interface {
	Subscribe(path string, callback store.SubscriberFunc, opts ...store.SubscribeOption) (func(), error)
}

// Config configures a Synchronizer.
type Config struct {
	// QueueSize bounds the update queue. Default: DefaultQueueSize.
	QueueSize int

	Logger *slog.Logger
}

type binding struct {
	id        string
	path      string
	property  string
	target    Target
	transform Transformer
	// unsubscribe removes the store-side subscription. Set after the
	// binding is registered.
	unsubscribe func()
}

type update struct {
	binding *binding
	value   any
}

// Synchronizer owns the binding registry and the update worker.
//
// # Thread Safety
//
// Safe for concurrent use. Bind, unbind, and CleanupDeadBindings may be
// called from any goroutine, including while store notifications are in
// flight.
type Synchronizer struct {
	source StateSource
	logger *slog.Logger

	mu       sync.Mutex
	bindings map[string]*binding
	closed   bool

	queue chan update
	done  chan struct{}

	applied atomic.Int64
	dropped atomic.Int64
	skipped atomic.Int64
}

// New builds and starts a synchronizer over a state source.
func New(source StateSource, cfg Config) *Synchronizer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Synchronizer{
		source:   source,
		logger:   logger,
		bindings: make(map[string]*binding),
		queue:    make(chan update, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go s.worker()
	return s
}

// Bind ties the state value at path to a named property on target.
//
// # Description
//
// Each store notification for path enqueues the new value; the worker
// applies the transformer and sets the property. The returned function
// removes both the binding and the underlying store subscription, and
// is safe to call more than once.
//
// # Inputs
//
//	target - The bound object. Must not be nil.
//	path - Dot-path into the state document.
//	property - Property name passed to SetProperty. Must not be empty.
//	transform - Optional value conversion. Nil means identity.
//	opts - Store subscription options, e.g. a change filter.
func (s *Synchronizer) Bind(target Target, path, property string, transform Transformer, opts ...store.SubscribeOption) (func(), error) {
	if target == nil {
		return nil, fmt.Errorf("statesync: target is required")
	}
	if property == "" {
		return nil, fmt.Errorf("statesync: property name is required")
	}

	b := &binding{
		id:        uuid.NewString(),
		path:      path,
		property:  property,
		target:    target,
		transform: transform,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSynchronizerClosed
	}
	s.bindings[b.id] = b
	s.mu.Unlock()

	unsubscribe, err := s.source.Subscribe(path, func(_ string, _, newValue any) {
		s.enqueue(b, newValue)
	}, opts...)
	if err != nil {
		s.mu.Lock()
		delete(s.bindings, b.id)
		s.mu.Unlock()
		return nil, fmt.Errorf("statesync: subscribe %q: %w", path, err)
	}
	b.unsubscribe = unsubscribe

	var once sync.Once
	return func() {
		once.Do(func() { s.unbind(b.id) })
	}, nil
}

// unbind removes one binding and its store subscription.
func (s *Synchronizer) unbind(id string) {
	s.mu.Lock()
	b, ok := s.bindings[id]
	delete(s.bindings, id)
	s.mu.Unlock()
	if ok && b.unsubscribe != nil {
		b.unsubscribe()
	}
}

// enqueue hands one update to the worker. A full queue drops the update;
// the path's next notification supersedes it.
func (s *Synchronizer) enqueue(b *binding, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- update{binding: b, value: value}:
	default:
		s.dropped.Add(1)
		s.logger.Warn("binding update dropped, queue full",
			slog.String("path", b.path),
			slog.String("property", b.property))
	}
}

func (s *Synchronizer) worker() {
	defer close(s.done)
	for u := range s.queue {
		s.apply(u)
	}
}

// apply runs one update end to end. A panicking transformer or setter
// affects only its own binding.
func (s *Synchronizer) apply(u update) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("binding update panicked",
				slog.String("path", u.binding.path),
				slog.String("property", u.binding.property),
				slog.Any("panic", r))
		}
	}()

	s.mu.Lock()
	_, registered := s.bindings[u.binding.id]
	s.mu.Unlock()
	if !registered {
		return
	}
	if !u.binding.target.Alive() {
		s.skipped.Add(1)
		return
	}

	value := u.value
	if u.binding.transform != nil {
		transformed, err := u.binding.transform(value)
		if err != nil {
			s.logger.Warn("binding transform failed",
				slog.String("path", u.binding.path),
				slog.String("property", u.binding.property),
				slog.String("error", err.Error()))
			return
		}
		value = transformed
	}

	if err := u.binding.target.SetProperty(u.binding.property, value); err != nil {
		s.logger.Warn("binding property set failed",
			slog.String("path", u.binding.path),
			slog.String("property", u.binding.property),
			slog.String("error", err.Error()))
		return
	}
	s.applied.Add(1)
}

// CleanupDeadBindings removes bindings whose target is no longer alive,
// returning how many were removed. Safe to call concurrently with bind
// and unbind traffic.
func (s *Synchronizer) CleanupDeadBindings() int {
	s.mu.Lock()
	var dead []*binding
	for id, b := range s.bindings {
		if !b.target.Alive() {
			dead = append(dead, b)
			delete(s.bindings, id)
		}
	}
	s.mu.Unlock()

	for _, b := range dead {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
	}
	if len(dead) > 0 {
		s.logger.Debug("dead bindings swept", slog.Int("removed", len(dead)))
	}
	return len(dead)
}

// BindingCount reports registered bindings.
func (s *Synchronizer) BindingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// Stats is a point-in-time counter view for debug export.
type Stats struct {
	Bindings int   `json:"bindings"`
	Applied  int64 `json:"applied"`
	Dropped  int64 `json:"dropped"`
	Skipped  int64 `json:"skipped"`
}

// CollectStats returns the synchronizer's counters.
func (s *Synchronizer) CollectStats() Stats {
	return Stats{
		Bindings: s.BindingCount(),
		Applied:  s.applied.Load(),
		Dropped:  s.dropped.Load(),
		Skipped:  s.skipped.Load(),
	}
}

// Close unsubscribes every binding and stops the worker after the queue
// drains. Bind calls after Close return ErrSynchronizerClosed.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	remaining := make([]*binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		remaining = append(remaining, b)
	}
	s.bindings = make(map[string]*binding)
	close(s.queue)
	s.mu.Unlock()

	for _, b := range remaining {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
	}
	<-s.done
}
