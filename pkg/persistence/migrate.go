// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/PolycarpusTack/canvasstate/pkg/middleware"
)

// StateMigrationError reports a failed schema migration. The original
// document is always preserved when this error is returned.
type StateMigrationError struct {
	FromVersion int
	ToVersion   int
	Reason      string
	Err         error
}

// Error implements the error interface.
func (e *StateMigrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("state migration v%d->v%d failed: %s: %v",
			e.FromVersion, e.ToVersion, e.Reason, e.Err)
	}
	return fmt.Sprintf("state migration v%d->v%d failed: %s",
		e.FromVersion, e.ToVersion, e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *StateMigrationError) Unwrap() error { return e.Err }

// Migration transforms a document from one schema version to the next.
type Migration struct {
	From      int
	To        int
	Transform func(Document) (Document, error)
}

// Migrator upgrades loaded documents to the current schema version by
// chaining registered migrations. Before any transform runs, the
// original document is backed up to the backend under a versioned key,
// so a failed or buggy migration never loses data.
//
// # Thread Safety
//
// Safe for concurrent use after construction; the migration table is
// immutable once built.
type Migrator struct {
	target   int
	steps    map[int]Migration
	backend  Backend
	validate func(Document) error
	logger   *slog.Logger
}

// MigratorOption configures a Migrator.
type MigratorOption func(*Migrator)

// WithBackupBackend enables pre-migration backups to the given backend.
func WithBackupBackend(b Backend) MigratorOption {
	return func(m *Migrator) { m.backend = b }
}

// WithValidator replaces the post-migration structural check. The
// default is ValidateDocument.
func WithValidator(fn func(Document) error) MigratorOption {
	return func(m *Migrator) { m.validate = fn }
}

// requiredDocumentKeys are the top-level sections every state document
// must carry to be loadable.
var requiredDocumentKeys = []string{
	"components", "selection", "canvas", "panels", "theme", "project",
}

// ValidateDocument is the default post-migration structural check:
// every required top-level section must be present and the component
// tree cross-references must be consistent. A document failing this
// check is discarded in favor of the original.
func ValidateDocument(doc Document) error {
	for _, key := range requiredDocumentKeys {
		if _, ok := doc[key]; !ok {
			return fmt.Errorf("document is missing required section %q", key)
		}
	}
	if findings := middleware.AuditSnapshot(doc); len(findings) > 0 {
		return fmt.Errorf("document cross-references are inconsistent: %s",
			strings.Join(findings, "; "))
	}
	return nil
}

// WithMigrationLogger sets the logger for migration progress.
func WithMigrationLogger(l *slog.Logger) MigratorOption {
	return func(m *Migrator) { m.logger = l }
}

// NewMigrator builds a migrator targeting version target.
//
// # Inputs
//
//	target - Schema version documents are upgraded to.
//	migrations - The available steps. Duplicate From versions and steps
//	             that do not increase the version are rejected.
//
// # Outputs
//
//	*Migrator - Ready to use.
//	error - Non-nil on a malformed migration table.
func NewMigrator(target int, migrations []Migration, opts ...MigratorOption) (*Migrator, error) {
	steps := make(map[int]Migration, len(migrations))
	for _, mig := range migrations {
		if mig.Transform == nil {
			return nil, fmt.Errorf("migration v%d->v%d has no transform", mig.From, mig.To)
		}
		if mig.To <= mig.From {
			return nil, fmt.Errorf("migration v%d->v%d does not increase the version", mig.From, mig.To)
		}
		if _, dup := steps[mig.From]; dup {
			return nil, fmt.Errorf("duplicate migration from v%d", mig.From)
		}
		steps[mig.From] = mig
	}

	m := &Migrator{
		target:   target,
		steps:    steps,
		validate: ValidateDocument,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Migrate upgrades doc to the target version.
//
// On success the upgraded document is returned. On any failure —
// missing chain link, transform error, or post-migration validation
// failure — the ORIGINAL document is returned together with a
// *StateMigrationError, so the caller can keep operating on what it
// had.
//
// Documents already at (or beyond) the target version pass through
// untouched.
func (m *Migrator) Migrate(ctx context.Context, key string, doc Document) (Document, error) {
	from := DocumentVersion(doc)
	if from >= m.target {
		return doc, nil
	}

	if m.backend != nil {
		backupKey := fmt.Sprintf("%s_backup_v%d", key, from)
		if err := m.backend.Save(ctx, backupKey, doc); err != nil {
			return doc, &StateMigrationError{
				FromVersion: from,
				ToVersion:   m.target,
				Reason:      "pre-migration backup failed",
				Err:         err,
			}
		}
		m.logger.Info("migration backup written",
			slog.String("key", backupKey), slog.Int("from_version", from))
	}

	current := doc
	version := from
	for version < m.target {
		step, ok := m.steps[version]
		if !ok {
			return doc, &StateMigrationError{
				FromVersion: from,
				ToVersion:   m.target,
				Reason:      fmt.Sprintf("no migration registered from v%d", version),
			}
		}
		next, err := step.Transform(current)
		if err != nil {
			return doc, &StateMigrationError{
				FromVersion: from,
				ToVersion:   m.target,
				Reason:      fmt.Sprintf("transform v%d->v%d failed", step.From, step.To),
				Err:         err,
			}
		}
		if next == nil {
			return doc, &StateMigrationError{
				FromVersion: from,
				ToVersion:   m.target,
				Reason:      fmt.Sprintf("transform v%d->v%d produced a nil document", step.From, step.To),
			}
		}
		current = next
		version = step.To
	}

	if err := m.validate(current); err != nil {
		return doc, &StateMigrationError{
			FromVersion: from,
			ToVersion:   m.target,
			Reason:      "migrated document failed validation",
			Err:         err,
		}
	}

	current[SchemaVersionKey] = m.target
	m.logger.Info("document migrated",
		slog.String("key", key),
		slog.Int("from_version", from),
		slog.Int("to_version", m.target))
	return current, nil
}

// Versions returns the registered source versions in ascending order.
// Used by debug export.
func (m *Migrator) Versions() []int {
	versions := make([]int, 0, len(m.steps))
	for v := range m.steps {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}
