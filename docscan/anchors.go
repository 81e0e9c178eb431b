// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package docscan

import (
	"sort"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/openclaw/observatory/lib/bm25"
)

// constraintKeywords mark a plain paragraph line as an anchor even
// without structural markup. They are the vocabulary agents' operating
// documents use for binding rules.
var constraintKeywords = []string{"must", "always", "never", "objective", "mission", "priority"}

// maxAnchorsPerDocument bounds extraction so a pathological document
// cannot dominate the index.
const maxAnchorsPerDocument = 32

// markdownParser is initialized once and shared. The parser
// configuration never changes and goldmark parsers are safe to share;
// per-parse state lives in the reader.
var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func parser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// extractAnchors walks the markdown AST and collects anchor lines:
// headings, list items, and constraint-keyword paragraphs, in document
// order. Returns the anchors and the heading count (used for the
// discovery score even when anchors are capped).
func extractAnchors(source []byte) (anchors []string, headings int) {
	document := parser().Parser().Parse(text.NewReader(source))

	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node.Kind() {
		case ast.KindHeading:
			headings++
			if line := strings.TrimSpace(nodeText(node, source)); line != "" && len(anchors) < maxAnchorsPerDocument {
				anchors = append(anchors, line)
			}

		case ast.KindListItem:
			// Only the item's own first block: nested lists walk on
			// their own and contribute their own items.
			if first := node.FirstChild(); first != nil && len(anchors) < maxAnchorsPerDocument {
				if line := strings.TrimSpace(nodeText(first, source)); line != "" {
					anchors = append(anchors, line)
				}
			}

		case ast.KindParagraph:
			// Paragraphs inside list items were already captured as
			// items.
			if parent := node.Parent(); parent != nil && parent.Kind() == ast.KindListItem {
				return ast.WalkContinue, nil
			}
			for _, line := range strings.Split(nodeText(node, source), "\n") {
				line = strings.TrimSpace(line)
				if line == "" || !containsConstraintKeyword(line) {
					continue
				}
				if len(anchors) >= maxAnchorsPerDocument {
					break
				}
				anchors = append(anchors, line)
			}
		}
		// Keep walking past the anchor cap: the heading count still
		// feeds the discovery score.
		return ast.WalkContinue, nil
	})

	return anchors, headings
}

// nodeText collects the plain text under a node. Soft line breaks
// become newlines so per-line keyword checks see the source lines.
func nodeText(node ast.Node, source []byte) string {
	var builder strings.Builder
	_ = ast.Walk(node, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := child.(type) {
		case *ast.Text:
			builder.Write(typed.Segment.Value(source))
			if typed.SoftLineBreak() || typed.HardLineBreak() {
				builder.WriteByte('\n')
			}
		case *ast.String:
			builder.Write(typed.Value)
		case *ast.AutoLink:
			builder.Write(typed.URL(source))
		}
		return ast.WalkContinue, nil
	})
	return builder.String()
}

func containsConstraintKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range constraintKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// MatchAnchors returns up to max anchors with the strongest token
// overlap against the reference text, strongest first. Anchors with no
// overlap are excluded. Ties keep document order, so output is
// deterministic for a fixed document.
func MatchAnchors(anchors []string, reference string, max int) []string {
	referenceTokens := make(map[string]bool)
	for _, token := range bm25.Tokenize(reference) {
		referenceTokens[token] = true
	}
	if len(referenceTokens) == 0 {
		return nil
	}

	type scored struct {
		anchor  string
		overlap int
	}
	var hits []scored
	for _, anchor := range anchors {
		seen := make(map[string]bool)
		overlap := 0
		for _, token := range bm25.Tokenize(anchor) {
			if referenceTokens[token] && !seen[token] {
				seen[token] = true
				overlap++
			}
		}
		if overlap > 0 {
			hits = append(hits, scored{anchor: anchor, overlap: overlap})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].overlap > hits[b].overlap })

	if max > 0 && len(hits) > max {
		hits = hits[:max]
	}
	matched := make([]string, len(hits))
	for i, hit := range hits {
		matched[i] = hit.anchor
	}
	return matched
}
