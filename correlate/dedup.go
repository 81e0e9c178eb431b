// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

// dedupWindow remembers the most recent keys seen on one channel, FIFO
// bounded. Old keys eventually expire, which is acceptable: sources
// replay recent history (rotation, snapshot overlap), not arbitrarily
// old history.
type dedupWindow struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newDedupWindow(capacity int) *dedupWindow {
	return &dedupWindow{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// remember records a key and reports whether it was already present.
func (w *dedupWindow) remember(key string) bool {
	if _, ok := w.seen[key]; ok {
		return true
	}
	w.seen[key] = struct{}{}
	w.order = append(w.order, key)
	if len(w.order) > w.capacity {
		evicted := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, evicted)
	}
	return false
}
