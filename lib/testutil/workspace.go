// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
)

// tdir is the subset of *testing.T needed for workspace helpers.
type tdir interface {
	Helper()
	Fatalf(format string, args ...any)
	TempDir() string
}

// WriteFile creates a file (and any missing parent directories) under
// root with the given content. Fails the test on error.
func WriteFile(t tdir, root, relative, content string) string {
	t.Helper()
	path := filepath.Join(root, relative)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// AppendFile appends content to a file under root, creating it if
// needed. Used by tailing tests to simulate a live JSONL producer.
func AppendFile(t tdir, path, content string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s for append: %v", path, err)
	}
	defer file.Close()
	if _, err := file.WriteString(content); err != nil {
		t.Fatalf("append to %s: %v", path, err)
	}
}
