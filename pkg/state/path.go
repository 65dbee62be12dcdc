// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateReadPath checks a dot-path supplied by an external reader.
//
// # Description
//
// Read paths are slightly more permissive than change paths (the empty
// path addresses the whole state), but traversal-style input is rejected
// outright: a path containing ".." or starting with "/" never resolves.
func ValidateReadPath(path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("state path %q must not start with /", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("state path %q must not contain ..", path)
	}
	return nil
}

// GetAtPath navigates a snapshot document by dot-path.
//
// Map keys are matched literally; numeric segments index into lists.
// Returns (nil, false) for any path that does not resolve; never panics
// for a missing key.
func GetAtPath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// SetAtPath writes value into a snapshot document, creating intermediate
// maps as needed. List elements can be replaced by numeric segment but
// lists are never grown implicitly.
func SetAtPath(doc map[string]any, path string, value any) error {
	segments := strings.Split(path, ".")
	parent, last, err := navigateToParent(doc, segments)
	if err != nil {
		return err
	}
	switch node := parent.(type) {
	case map[string]any:
		node[last] = value
		return nil
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(node) {
			return fmt.Errorf("list index %q out of range at %q", last, path)
		}
		node[i] = value
		return nil
	default:
		return fmt.Errorf("cannot set %q: parent is not a container", path)
	}
}

// DeleteAtPath removes the value at path from a snapshot document.
// A path that does not resolve is a no-op.
func DeleteAtPath(doc map[string]any, path string) {
	segments := strings.Split(path, ".")
	parent, last, err := navigateToParent(doc, segments)
	if err != nil {
		return
	}
	if node, ok := parent.(map[string]any); ok {
		delete(node, last)
	}
}

// navigateToParent walks to the container holding the final segment,
// creating intermediate maps for Set semantics.
func navigateToParent(doc map[string]any, segments []string) (any, string, error) {
	var current any = doc
	for _, segment := range segments[:len(segments)-1] {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				created := make(map[string]any)
				node[segment] = created
				current = created
				continue
			}
			current = next
		case []any:
			i, err := strconv.Atoi(segment)
			if err != nil || i < 0 || i >= len(node) {
				return nil, "", fmt.Errorf("list index %q out of range", segment)
			}
			current = node[i]
		default:
			return nil, "", fmt.Errorf("segment %q is not a container", segment)
		}
	}
	return current, segments[len(segments)-1], nil
}
