// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for
// identifier-like values.
//
// Component ids end up as map keys, dot-path segments, and persistence
// keys, so their alphabet is restricted up front: an id that validates
// here can never collide with path syntax or escape a storage key.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// componentIDPattern matches valid component identifiers.
// Allows: letters, digits, underscores, hyphens; must start with a
// letter or digit. Max length: 64 characters.
var componentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateComponentID validates a component identifier.
//
// Valid ids:
//   - 1-64 characters
//   - Letters and digits, plus underscores and hyphens after the first
//     character
//
// Dots are rejected because ids are used as dot-path segments.
//
// Example:
//
//	if err := validation.ValidateComponentID(id); err != nil {
//	    return fmt.Errorf("invalid component id: %w", err)
//	}
func ValidateComponentID(id string) error {
	if id == "" {
		return fmt.Errorf("component id cannot be empty")
	}
	if !componentIDPattern.MatchString(id) {
		return fmt.Errorf("invalid component id: %q (must be 1-64 alphanumeric chars, underscores, or hyphens)", id)
	}
	return nil
}

// ValidateComponentIDs validates multiple identifiers. Returns an error
// listing every invalid id if any fail.
func ValidateComponentIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateComponentID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid component ids: %v", invalid)
	}
	return nil
}

// SanitizeComponentID trims whitespace and validates the identifier.
// Returns the trimmed id if valid.
func SanitizeComponentID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateComponentID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
