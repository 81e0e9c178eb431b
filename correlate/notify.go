// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// Notification is one coalesced change push. Seq is strictly
// monotonic per notifier; a subscriber observing a gap knows it
// dropped pushes and should re-snapshot.
type Notification struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Agents []string  `json:"agents,omitempty"`

	// Events counts events applied since the previous notification.
	Events int `json:"events"`

	// Mode travels with every push so clients track posture changes
	// without polling.
	Mode schema.Mode `json:"mode"`
}

// Notifier batches change marks into at most one notification per
// coalesce interval and fans it out to subscribers. Slow subscribers
// drop pushes rather than block the pipeline; the sequence number
// makes the drop detectable.
type Notifier struct {
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	mode     func() schema.Mode

	mu          sync.Mutex
	seq         uint64
	pending     map[string]struct{}
	pendingN    int
	flushArmed  bool
	subscribers map[int]chan Notification
	nextID      int
	closed      bool
}

// NewNotifier returns a notifier with the given coalesce interval.
// mode supplies the current operating mode stamped on each push.
func NewNotifier(interval time.Duration, mode func() schema.Mode, clk clock.Clock, logger *slog.Logger) *Notifier {
	return &Notifier{
		interval:    interval,
		clock:       clk,
		logger:      logger,
		mode:        mode,
		pending:     make(map[string]struct{}),
		subscribers: make(map[int]chan Notification),
	}
}

// Subscribe registers a push channel with the given buffer. The
// returned cancel removes the subscription and closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Notification, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Notification, buffer)
	n.subscribers[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Mark records that the named agents changed due to some applied
// events. The first mark after a quiet period arms a flush one
// coalesce interval later; marks arriving meanwhile ride along.
func (n *Notifier) Mark(agents []string, events int) {
	if events == 0 && len(agents) == 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for _, agent := range agents {
		n.pending[agent] = struct{}{}
	}
	n.pendingN += events

	if !n.flushArmed {
		n.flushArmed = true
		timer := n.clock.After(n.interval)
		go func() {
			<-timer
			n.flush()
		}()
	}
}

// flush emits one notification covering everything marked since the
// flush was armed.
func (n *Notifier) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flushArmed = false
	if n.closed || (len(n.pending) == 0 && n.pendingN == 0) {
		return
	}

	n.seq++
	notification := Notification{
		Seq:    n.seq,
		Time:   n.clock.Now(),
		Agents: sortedKeys(n.pending),
		Events: n.pendingN,
		Mode:   n.mode(),
	}
	n.pending = make(map[string]struct{})
	n.pendingN = 0

	for id, sub := range n.subscribers {
		select {
		case sub <- notification:
		default:
			// Dropped: the subscriber sees the seq gap and
			// re-snapshots.
			n.logger.Debug("notification dropped", "subscriber", id, "seq", notification.Seq)
		}
	}
}

// Close stops the notifier and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, sub := range n.subscribers {
		delete(n.subscribers, id)
		close(sub)
	}
}

// Seq returns the sequence number of the last emitted notification.
func (n *Notifier) Seq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}
