// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package bm25

import "testing"

func corpus() []Document {
	return []Document{
		{Name: "objectives.md", Fields: []Field{
			{Text: "Objectives", Weight: 3},
			{Text: "ship the billing migration before friday and never touch production secrets", Weight: 1},
		}},
		{Name: "operations.md", Fields: []Field{
			{Text: "Operations runbook", Weight: 3},
			{Text: "cron jobs must report status after every run", Weight: 1},
		}},
		{Name: "notes.md", Fields: []Field{
			{Text: "scratch notes", Weight: 1},
			{Text: "random thoughts about lunch", Weight: 1},
		}},
	}
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	index := New(corpus())

	results := index.Search("billing migration deadline", 3)
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Name != "objectives.md" {
		t.Errorf("top result = %s, want objectives.md", results[0].Name)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	index := New(corpus())
	results := index.Search("cron status report run", 1)
	if len(results) != 1 {
		t.Fatalf("len = %d, want 1", len(results))
	}
	if results[0].Name != "operations.md" {
		t.Errorf("top result = %s, want operations.md", results[0].Name)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	index := New(corpus())
	if results := index.Search("", 5); results != nil {
		t.Errorf("empty query returned %v", results)
	}
	// Tokens under the length floor are discarded too.
	if results := index.Search("a b c", 5); results != nil {
		t.Errorf("short-token query returned %v", results)
	}
}

func TestSearchDeterministic(t *testing.T) {
	first := New(corpus()).Search("cron billing status", 3)
	second := New(corpus()).Search("cron billing status", 3)
	if len(first) != len(second) {
		t.Fatalf("result counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("result %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestSearchExcludesUnrelatedDocuments(t *testing.T) {
	results := New(corpus()).Search("billing migration", 0)
	if len(results) == 0 {
		t.Fatal("no results for matching query")
	}
	for _, result := range results {
		if result.Score <= 0 {
			t.Errorf("result %q carries non-positive score %v", result.Name, result.Score)
		}
	}
	third := corpus()[2].Name
	for _, result := range results {
		if result.Name == third {
			t.Errorf("unrelated document %q surfaced with score %v", third, result.Score)
		}
	}
}

func TestTokenizeKeepsJoiners(t *testing.T) {
	tokens := Tokenize("cron-job_alpha runs OK")
	want := map[string]bool{"cron-job_alpha": true, "runs": true}
	if len(tokens) != 2 {
		t.Fatalf("tokens = %v", tokens)
	}
	for _, token := range tokens {
		if !want[token] {
			t.Errorf("unexpected token %q", token)
		}
	}
}
