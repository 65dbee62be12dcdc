// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend stores each document as an indented JSON file under a
// root directory. Writes go to a temp file in the same directory and
// are renamed into place, so a crash mid-save never leaves a truncated
// document.
//
// Keys map to file names; path separators and ".." are rejected to keep
// documents inside the root.
//
// # Thread Safety
//
// Safe for concurrent use. A single mutex serializes writes; the rename
// makes reads see either the old or the new document, never a mix.
type FileBackend struct {
	root string
	mu   sync.Mutex
}

// NewFileBackend creates the root directory if needed and returns a
// backend rooted there.
func NewFileBackend(root string) (*FileBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create document directory %s: %w", root, err)
	}
	return &FileBackend{root: root}, nil
}

// Save writes doc to {root}/{key}.json atomically.
func (f *FileBackend) Save(ctx context.Context, key string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	path, err := f.pathFor(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(stamp(doc, CurrentSchemaVersion), "", "  ")
	if err != nil {
		return fmt.Errorf("encode document %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.root, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write document %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync document %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document %s: %w", key, err)
	}
	return nil
}

// Load reads the document stored under key.
func (f *FileBackend) Load(ctx context.Context, key string) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context cancelled: %w", err)
	}
	path, err := f.pathFor(key)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document %s: %w", key, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("decode document %s: %w", key, err)
	}
	return doc, true, nil
}

// Delete removes the document file. Missing files are a no-op.
func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	path, err := f.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; file handles are not held between operations.
func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) pathFor(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid document key %q", key)
	}
	return filepath.Join(f.root, key+".json"), nil
}
