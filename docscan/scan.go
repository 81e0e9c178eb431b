// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package docscan

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/lib/bm25"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

const (
	// maxScanFiles caps how many discovered documents survive
	// ranking. maxScanDepth bounds the walk; agent workspaces nest
	// vendored trees far deeper than their own documents.
	maxScanFiles = 80
	maxScanDepth = 4

	// maxFileBytes excludes generated markdown dumps. Real operating
	// documents are short.
	maxFileBytes = 512_000

	// sampleLines is how much of the document head is kept as the
	// excerpt source.
	sampleLines = 24
)

// Document is one discovered markdown file with its extracted
// structure.
type Document struct {
	// Name is the workspace-relative slash path and the identity a
	// caller uses to request content.
	Name string `json:"name"`

	Path     string    `json:"-"`
	ModTime  time.Time `json:"mod_time"`
	Size     int64     `json:"size"`
	Headings int       `json:"headings"`
	Anchors  []string  `json:"anchors,omitempty"`

	// Sample is the first lines of the document, the source for
	// deep-dive excerpts.
	Sample string `json:"sample,omitempty"`

	// IsIndex marks an index.md, ordered first in the manifest.
	IsIndex bool `json:"is_index"`

	// Score is the discovery score the scan ranked this document by.
	Score float64 `json:"score"`
}

// Scanner walks a workspace for context documents. Construction
// compiles the ignore globs; Scan can be re-run as documents change.
type Scanner struct {
	root   string
	cfg    config.DocsConfig
	clock  clock.Clock
	logger *slog.Logger
	ignore []glob.Glob
}

// NewScanner compiles the configured ignore patterns. Patterns match
// workspace-relative slash paths.
func NewScanner(root string, cfg config.DocsConfig, clk clock.Clock, logger *slog.Logger) (*Scanner, error) {
	scanner := &Scanner{
		root:   root,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
	}
	for _, pattern := range cfg.Ignore {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("docscan: ignore pattern %q: %w", pattern, err)
		}
		scanner.ignore = append(scanner.ignore, compiled)
	}
	return scanner, nil
}

// Scan walks the workspace and returns the discovered document set.
// A missing or unreadable workspace yields an empty set, not an
// error: document discovery is best-effort by design.
func (s *Scanner) Scan() *Set {
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		s.logger.Debug("docscan: workspace not scannable", "root", s.root, "error", err)
		return newSet(nil)
	}

	now := s.clock.Now()
	var candidates []Document

	walkErr := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("docscan: walk error", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		relative, err := filepath.Rel(s.root, path)
		if err != nil || relative == "." {
			return nil
		}
		slashPath := filepath.ToSlash(relative)

		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") || s.ignored(slashPath) {
				return filepath.SkipDir
			}
			if strings.Count(slashPath, "/")+1 > maxScanDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") || s.ignored(slashPath) {
			return nil
		}
		info, err := entry.Info()
		if err != nil || info.Size() <= 0 || info.Size() > maxFileBytes {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			s.logger.Debug("docscan: unreadable document", "path", path, "error", err)
			return nil
		}

		anchors, headings := extractAnchors(content)
		depth := strings.Count(slashPath, "/")
		document := Document{
			Name:     slashPath,
			Path:     path,
			ModTime:  info.ModTime(),
			Size:     info.Size(),
			Headings: headings,
			Anchors:  anchors,
			Sample:   head(string(content), sampleLines),
			IsIndex:  strings.EqualFold(entry.Name(), "index.md"),
			Score:    discoveryScore(headings, depth, now.Sub(info.ModTime())),
		}
		candidates = append(candidates, document)
		return nil
	})
	if walkErr != nil {
		s.logger.Warn("docscan: walk aborted", "root", s.root, "error", walkErr)
	}

	// Best discoveries first; path breaks ties so the cut is
	// deterministic for a fixed tree.
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].Name < candidates[b].Name
	})
	if len(candidates) > maxScanFiles {
		candidates = candidates[:maxScanFiles]
	}
	return newSet(candidates)
}

func (s *Scanner) ignored(slashPath string) bool {
	for _, pattern := range s.ignore {
		if pattern.Match(slashPath) {
			return true
		}
	}
	return false
}

// discoveryScore ranks a candidate by structure, placement, and
// recency. No filename participates: a mission document is recognized
// by being a heading-dense, recently touched file near the workspace
// root, not by being called MISSION.md.
func discoveryScore(headings, depth int, age time.Duration) float64 {
	score := float64(headings) * 4
	if depth == 0 {
		score += 15
	}
	score -= float64(depth) * 3
	switch {
	case age < 24*time.Hour:
		score += 10
	case age < 7*24*time.Hour:
		score += 5
	}
	return score
}

// head returns the first n lines of text.
func head(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// Set is an immutable discovered-document set with a relevance index.
// Content access is restricted to its members.
type Set struct {
	documents []Document
	byName    map[string]int
	index     *bm25.Index
}

func newSet(documents []Document) *Set {
	// Manifest order: index documents first, then case-insensitive
	// name.
	sort.SliceStable(documents, func(a, b int) bool {
		if documents[a].IsIndex != documents[b].IsIndex {
			return documents[a].IsIndex
		}
		return strings.ToLower(documents[a].Name) < strings.ToLower(documents[b].Name)
	})

	set := &Set{
		documents: documents,
		byName:    make(map[string]int, len(documents)),
	}
	indexed := make([]bm25.Document, len(documents))
	for i, document := range documents {
		set.byName[document.Name] = i
		indexed[i] = bm25.Document{
			Name: document.Name,
			Fields: []bm25.Field{
				{Text: document.Name, Weight: 2},
				{Text: strings.Join(document.Anchors, "\n"), Weight: 3},
				{Text: document.Sample, Weight: 1},
			},
		}
	}
	set.index = bm25.New(indexed)
	return set
}

// Len returns the number of discovered documents.
func (s *Set) Len() int { return len(s.documents) }

// Manifest returns the documents in manifest order.
func (s *Set) Manifest() []Document {
	manifest := make([]Document, len(s.documents))
	copy(manifest, s.documents)
	return manifest
}

// Get returns a discovered document by name.
func (s *Set) Get(name string) (Document, error) {
	i, ok := s.byName[name]
	if !ok {
		return Document{}, fmt.Errorf("docscan: %q: %w", name, schema.ErrDocumentNotFound)
	}
	return s.documents[i], nil
}

// Content returns the raw markdown body of a discovered document. The
// name must come from the manifest; arbitrary paths are not readable
// through the set.
func (s *Set) Content(name string) (string, error) {
	document, err := s.Get(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(document.Path)
	if err != nil {
		return "", fmt.Errorf("docscan: reading %q: %w", name, err)
	}
	return string(content), nil
}

// Ranked is one relevance hit against a decision context.
type Ranked struct {
	Document
	Relevance float64 `json:"relevance"`
}

// Rank returns up to limit documents by relevance to the context
// text. Zero-relevance documents are excluded.
func (s *Set) Rank(context string, limit int) []Ranked {
	hits := s.index.Search(context, limit)
	ranked := make([]Ranked, 0, len(hits))
	for _, hit := range hits {
		i, ok := s.byName[hit.Name]
		if !ok {
			continue
		}
		ranked = append(ranked, Ranked{Document: s.documents[i], Relevance: hit.Score})
	}
	return ranked
}
