// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package persistence stores and restores state documents.
//
// A state document is a plain map (the engine's snapshot form) with two
// envelope fields stamped on save:
//
//	_schema_version - integer schema version of the document layout
//	_saved_at       - unix milliseconds of the save
//
// Two backends are provided: BadgerBackend for embedded low-latency
// storage (autosave snapshots, migration backups) and FileBackend for
// human-inspectable project files written atomically. Migrator upgrades
// documents across schema versions on load.
package persistence

import (
	"context"
	"errors"
	"time"
)

// Envelope field names embedded in every saved document.
const (
	SchemaVersionKey = "_schema_version"
	SavedAtKey       = "_saved_at"
)

// CurrentSchemaVersion is the version new documents are stamped with.
const CurrentSchemaVersion = 2

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("persistence: backend is closed")

// Document is a state document in snapshot form.
type Document = map[string]any

// Backend stores documents under string keys.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the autosave
// middleware and Close-time final save may overlap.
type Backend interface {
	// Save stores doc under key, stamping the envelope fields.
	Save(ctx context.Context, key string, doc Document) error

	// Load retrieves the document stored under key. The boolean is
	// false when the key has never been saved; that is not an error.
	Load(ctx context.Context, key string) (Document, bool, error)

	// Delete removes the document stored under key. Deleting a missing
	// key is a no-op.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources. Operations after Close return
	// ErrClosed.
	Close() error
}

// stamp sets the envelope fields on a copy of doc, never mutating the
// caller's map.
func stamp(doc Document, version int) Document {
	out := make(Document, len(doc)+2)
	for k, v := range doc {
		out[k] = v
	}
	out[SchemaVersionKey] = version
	out[SavedAtKey] = time.Now().UnixMilli()
	return out
}

// DocumentVersion reads the schema version from a document's envelope.
// Documents without a version field (or with a malformed one) are
// treated as version 1, the pre-envelope layout.
func DocumentVersion(doc Document) int {
	switch v := doc[SchemaVersionKey].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON round-trips integers as float64.
		return int(v)
	default:
		return 1
	}
}
