// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statesync

import (
	"fmt"

	"github.com/PolycarpusTack/canvasstate/pkg/store"
)

// Convenience bindings. Each is plain Bind with a specific transformer;
// none has its own update path.

// BindText binds a state value to a "text" property, formatted with the
// given verb. An empty format uses %v.
func (s *Synchronizer) BindText(target Target, path, format string, opts ...store.SubscribeOption) (func(), error) {
	if format == "" {
		format = "%v"
	}
	return s.Bind(target, path, "text", func(value any) (any, error) {
		return fmt.Sprintf(format, value), nil
	}, opts...)
}

// BindVisible binds a state value's truthiness to a "visible" property.
// With invert set, a truthy value hides the target.
func (s *Synchronizer) BindVisible(target Target, path string, invert bool, opts ...store.SubscribeOption) (func(), error) {
	return s.Bind(target, path, "visible", func(value any) (any, error) {
		return truthy(value) != invert, nil
	}, opts...)
}

// ItemBuilder renders one list element into its display form.
type ItemBuilder func(index int, item any) any

// BindList binds a list-valued state path to an "items" property. Each
// element is rendered through the builder; a non-list value becomes an
// empty list.
func (s *Synchronizer) BindList(target Target, path string, build ItemBuilder, opts ...store.SubscribeOption) (func(), error) {
	if build == nil {
		build = func(_ int, item any) any { return item }
	}
	return s.Bind(target, path, "items", func(value any) (any, error) {
		list, _ := value.([]any)
		items := make([]any, 0, len(list))
		for i, item := range list {
			items = append(items, build(i, item))
		}
		return items, nil
	}, opts...)
}

// BindColor binds a state value to a "color" property. Values must be
// strings; anything else fails the transform and is logged, not set.
func (s *Synchronizer) BindColor(target Target, path string, opts ...store.SubscribeOption) (func(), error) {
	return s.Bind(target, path, "color", func(value any) (any, error) {
		color, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("color value is %T, want string", value)
		}
		return color, nil
	}, opts...)
}

// truthy maps document values onto a boolean: nil and zero values are
// false, non-empty strings and collections are true.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
