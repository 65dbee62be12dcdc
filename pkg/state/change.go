// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state defines the canonical application state model: the AppState
// aggregate, the component tree with its owned spatial index, and the
// immutable Action and Change value types that describe intended and
// observed state transitions.
package state

import (
	"fmt"
	"regexp"
	"strings"
)

// ChangeKind classifies a single recorded delta.
type ChangeKind string

const (
	// ChangeCreate records a value that did not exist before.
	ChangeCreate ChangeKind = "create"
	// ChangeUpdate records a value that was replaced.
	ChangeUpdate ChangeKind = "update"
	// ChangeDelete records a value that was removed.
	ChangeDelete ChangeKind = "delete"
)

// pathSegmentPattern matches one valid dot-path segment.
// Allows: letters, digits, underscores, hyphens. This guards against
// path-traversal-style bugs when paths are later used to navigate the
// state tree reflectively.
var pathSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Change is a single field-level delta produced by diffing two state
// values. Never mutated after construction.
type Change struct {
	Path     string     `json:"path"`
	Kind     ChangeKind `json:"kind"`
	OldValue any        `json:"old_value,omitempty"`
	NewValue any        `json:"new_value,omitempty"`
}

// NewChange constructs a Change, rejecting malformed paths at
// construction time.
//
// # Description
//
// The path must be non-empty and every dot-separated segment must match
// [A-Za-z0-9_-]+. An empty segment (leading, trailing, or doubled dot)
// is rejected.
func NewChange(path string, kind ChangeKind, oldValue, newValue any) (Change, error) {
	if err := ValidateChangePath(path); err != nil {
		return Change{}, err
	}
	switch kind {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
	default:
		return Change{}, fmt.Errorf("invalid change kind %q", kind)
	}
	return Change{Path: path, Kind: kind, OldValue: oldValue, NewValue: newValue}, nil
}

// ValidateChangePath checks a dot-path against the segment charset rules.
func ValidateChangePath(path string) error {
	if path == "" {
		return fmt.Errorf("change path cannot be empty")
	}
	for _, segment := range strings.Split(path, ".") {
		if !pathSegmentPattern.MatchString(segment) {
			return fmt.Errorf("invalid change path segment %q in %q (must be alphanumeric, underscore, or hyphen)", segment, path)
		}
	}
	return nil
}

// Inverse returns the change that undoes this one.
//
// Create and Delete swap kinds; Update swaps old and new values.
func (c Change) Inverse() Change {
	switch c.Kind {
	case ChangeCreate:
		return Change{Path: c.Path, Kind: ChangeDelete, OldValue: c.NewValue}
	case ChangeDelete:
		return Change{Path: c.Path, Kind: ChangeCreate, NewValue: c.OldValue}
	default:
		return Change{Path: c.Path, Kind: ChangeUpdate, OldValue: c.NewValue, NewValue: c.OldValue}
	}
}

// InverseChanges returns the inverses of changes in reverse order, the
// order in which they must be applied to roll a transition back.
func InverseChanges(changes []Change) []Change {
	inverse := make([]Change, 0, len(changes))
	for i := len(changes) - 1; i >= 0; i-- {
		inverse = append(inverse, changes[i].Inverse())
	}
	return inverse
}
