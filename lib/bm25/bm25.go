// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Okapi parameters, standard values.
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// tokenPattern splits text into alphanumeric runs. Underscores and
// hyphens are kept inside tokens because agent names, cron job ids,
// and markdown anchors use them as word joiners.
var tokenPattern = regexp.MustCompile(`[a-z0-9_-]+`)

// Field is one weighted text field of a document. Weight controls how
// many times the field's tokens are repeated in the composite document;
// zero or negative weight skips the field.
type Field struct {
	Text   string
	Weight int
}

// Document is a named collection of weighted fields. Name identifies
// the document in results and is not itself scored.
type Document struct {
	Name   string
	Fields []Field
}

// Result is one ranked hit.
type Result struct {
	// Name is the document name given at construction.
	Name string

	// Score is the BM25 relevance score. Higher is more relevant;
	// the scale is corpus-dependent and unbounded.
	Score float64
}

// Index is an immutable BM25 index built at construction time. Safe
// for concurrent reads.
type Index struct {
	documents []Document

	termFrequencies []map[string]int
	lengths         []int
	averageLength   float64
	inverseDocFreq  map[string]float64
}

// New builds an index over the given documents. O(total tokens).
func New(documents []Document) *Index {
	index := &Index{
		documents:       documents,
		termFrequencies: make([]map[string]int, len(documents)),
		lengths:         make([]int, len(documents)),
		inverseDocFreq:  make(map[string]float64),
	}

	documentFrequency := make(map[string]int)
	var totalLength int

	for i, document := range documents {
		tokens := compositeTokens(document)
		index.lengths[i] = len(tokens)
		totalLength += len(tokens)

		frequency := make(map[string]int)
		seen := make(map[string]bool)
		for _, token := range tokens {
			frequency[token]++
			if !seen[token] {
				seen[token] = true
				documentFrequency[token]++
			}
		}
		index.termFrequencies[i] = frequency
	}

	if len(documents) > 0 {
		index.averageLength = float64(totalLength) / float64(len(documents))
	}

	// Precompute IDF. Terms present in every document get a small
	// positive epsilon instead of zero so they still nudge ranking.
	documentCount := float64(len(documents))
	for term, frequency := range documentFrequency {
		idf := math.Log(1 + (documentCount-float64(frequency)+0.5)/(float64(frequency)+0.5))
		if idf < 0 {
			idf = paramEpsilon
		}
		index.inverseDocFreq[term] = idf
	}

	return index
}

// Search returns up to limit documents ranked by relevance to the
// query. Returns nil when the query has no usable tokens or nothing
// matches.
func (index *Index) Search(query string, limit int) []Result {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	type scoredHit struct {
		index int
		score float64
	}
	var hits []scoredHit

	for i := range index.documents {
		score := index.score(i, queryTokens)
		if score > 0 {
			hits = append(hits, scoredHit{index: i, score: score})
		}
	}

	// Ties break on document order for deterministic output across
	// repeated builds over the same scan.
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{Name: index.documents[hit.index].Name, Score: hit.score}
	}
	return results
}

func (index *Index) score(documentIndex int, queryTokens []string) float64 {
	frequency := index.termFrequencies[documentIndex]
	length := float64(index.lengths[documentIndex])

	var score float64
	for _, token := range queryTokens {
		idf, exists := index.inverseDocFreq[token]
		if !exists {
			continue
		}
		tf := float64(frequency[token])
		if tf == 0 {
			continue
		}
		numerator := tf * (paramK1 + 1)
		denominator := tf + paramK1*(1-paramB+paramB*length/index.averageLength)
		score += idf * numerator / denominator
	}
	return score
}

// compositeTokens builds the weighted token sequence for a document by
// repeating each field's tokens Weight times. A simple stand-in for
// per-field BM25 that works well on small corpora.
func compositeTokens(document Document) []string {
	var tokens []string
	for _, field := range document.Fields {
		if field.Weight <= 0 {
			continue
		}
		fieldTokens := Tokenize(field.Text)
		for i := 0; i < field.Weight; i++ {
			tokens = append(tokens, fieldTokens...)
		}
	}
	return tokens
}

// Tokenize splits text into lowercase tokens, discarding tokens
// shorter than 3 characters: agent telemetry text is dense with "ok",
// "id", and similar noise that would dominate ranking.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	matches := tokenPattern.FindAllString(lower, -1)

	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 3 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}
