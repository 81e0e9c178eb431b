// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// DeadLetter archives raw inputs that failed normalization. One JSONL
// file per channel per day; entries carry the reason and the verbatim
// raw input so an operator can replay them after fixing the producer.
type DeadLetter struct {
	dir    string
	logger *slog.Logger
	clock  clock.Clock

	mu sync.Mutex
}

// deadLetterEntry is the archived record format.
type deadLetterEntry struct {
	Time    time.Time `json:"time"`
	Channel string    `json:"channel"`
	Reason  string    `json:"reason"`
	Raw     string    `json:"raw"`
}

// NewDeadLetter returns an archive rooted at dir. The directory is
// created lazily on first write.
func NewDeadLetter(dir string, logger *slog.Logger, clk clock.Clock) *DeadLetter {
	return &DeadLetter{dir: dir, logger: logger, clock: clk}
}

// Archive records one rejected input. Archive failures are logged,
// not returned: a broken archive must not take the connector down
// with it.
func (d *DeadLetter) Archive(channel schema.Channel, raw []byte, reason error) {
	now := d.clock.Now().UTC()
	entry := deadLetterEntry{
		Time:    now,
		Channel: string(channel),
		Reason:  reason.Error(),
		Raw:     string(raw),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		d.logger.Error("dead letter marshal failed", "channel", channel, "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Error("dead letter dir unavailable", "dir", d.dir, "error", err)
		return
	}
	name := fmt.Sprintf("%s-%s.jsonl", channel, now.Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(d.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		d.logger.Error("dead letter open failed", "file", name, "error", err)
		return
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		d.logger.Error("dead letter write failed", "file", name, "error", err)
		return
	}
	d.logger.Warn("input dead-lettered", "channel", channel, "reason", reason)
}
