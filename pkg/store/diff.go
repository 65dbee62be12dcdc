// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// DiffSnapshots computes the ordered structural change list between two
// state documents.
//
// # Description
//
// The diff recurses into nested maps (by sorted key) and into lists of
// equal length (by index). At the first divergence that cannot be
// recursed — mismatched types, lists of different length, or unequal
// scalars — a single Update change is recorded for that path. Keys
// present on only one side become Create or Delete changes carrying the
// whole subtree as the value.
//
// Applying the resulting changes to the old document reproduces the new
// one; applying their inverses to the new document reproduces the old.
func DiffSnapshots(oldDoc, newDoc state.Snapshot) []state.Change {
	var changes []state.Change
	diffMaps("", map[string]any(oldDoc), map[string]any(newDoc), &changes)
	return changes
}

func diffValue(path string, oldVal, newVal any, changes *[]state.Change) {
	oldMap, oldIsMap := oldVal.(map[string]any)
	newMap, newIsMap := newVal.(map[string]any)
	if oldIsMap && newIsMap {
		diffMaps(path, oldMap, newMap, changes)
		return
	}

	oldList, oldIsList := oldVal.([]any)
	newList, newIsList := newVal.([]any)
	if oldIsList && newIsList && len(oldList) == len(newList) {
		for i := range oldList {
			diffValue(joinPath(path, fmt.Sprintf("%d", i)), oldList[i], newList[i], changes)
		}
		return
	}

	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, state.Change{
			Path:     path,
			Kind:     state.ChangeUpdate,
			OldValue: oldVal,
			NewValue: newVal,
		})
	}
}

func diffMaps(path string, oldMap, newMap map[string]any, changes *[]state.Change) {
	keys := make([]string, 0, len(oldMap)+len(newMap))
	seen := make(map[string]bool, len(oldMap)+len(newMap))
	for k := range oldMap {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range newMap {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		childPath := joinPath(path, key)
		oldVal, inOld := oldMap[key]
		newVal, inNew := newMap[key]
		switch {
		case inOld && !inNew:
			*changes = append(*changes, state.Change{
				Path:     childPath,
				Kind:     state.ChangeDelete,
				OldValue: oldVal,
			})
		case !inOld && inNew:
			*changes = append(*changes, state.Change{
				Path:     childPath,
				Kind:     state.ChangeCreate,
				NewValue: newVal,
			})
		default:
			diffValue(childPath, oldVal, newVal, changes)
		}
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

// ApplyChanges applies a change list to a document in order, mutating
// it in place. Undo and redo replay recorded deltas through this.
func ApplyChanges(doc state.Snapshot, changes []state.Change) {
	for _, change := range changes {
		switch change.Kind {
		case state.ChangeCreate, state.ChangeUpdate:
			state.SetAtPath(doc, change.Path, change.NewValue)
		case state.ChangeDelete:
			state.DeleteAtPath(doc, change.Path)
		}
	}
}
