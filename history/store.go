// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/lib/codec"
	"github.com/openclaw/observatory/lib/sqlitepool"
	"github.com/openclaw/observatory/schema"
)

// Payload encodings. Stored per row; changing the values breaks
// existing databases.
const (
	encodingRaw  = 0 // deterministic CBOR
	encodingZstd = 1 // zstd-compressed deterministic CBOR
)

// zstdEncoder and zstdDecoder are shared across stores. Both are safe
// for concurrent use with EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("history: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("history: zstd decoder initialization failed: " + err.Error())
	}
}

const storeSchema = `
	CREATE TABLE IF NOT EXISTS events (
		id        INTEGER PRIMARY KEY,
		dedup_key TEXT NOT NULL UNIQUE,
		time      INTEGER NOT NULL,
		channel   TEXT NOT NULL,
		agent     TEXT NOT NULL,
		kind      TEXT NOT NULL,
		encoding  INTEGER NOT NULL,
		size      INTEGER NOT NULL,
		payload   BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(time);
	CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent, time);
	CREATE INDEX IF NOT EXISTS idx_events_channel ON events(channel, time);
`

// Store is the SQLite-backed bounded replay store. It holds the
// normalized event stream keyed by dedup key, so appends are
// idempotent and a replay of an overlapping window is a no-op.
//
// Store is safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	cfg    config.HistoryConfig
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates or opens the replay store at cfg.Path. The parent
// directory must exist.
func Open(cfg config.HistoryConfig, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: Path is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("history: Clock is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: 4,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return &Store{
		pool:   pool,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Append inserts events in a single IMMEDIATE transaction. Events
// whose dedup key is already present are skipped. Returns the number
// of rows actually inserted.
func (s *Store) Append(ctx context.Context, events []schema.Event) (inserted int, err error) {
	if len(events) == 0 {
		return 0, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: append: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("history: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for i := range events {
		changed, err := s.insertEvent(conn, &events[i])
		if err != nil {
			return inserted, err
		}
		if changed {
			inserted++
		}
	}
	return inserted, nil
}

// insertEvent writes one event row. Returns false when the dedup key
// was already present.
func (s *Store) insertEvent(conn *sqlite.Conn, event *schema.Event) (bool, error) {
	raw, err := codec.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("history: marshal event %s: %w", event.EffectiveDedupKey(), err)
	}

	encoding := encodingRaw
	payload := raw
	if compressed := zstdEncoder.EncodeAll(raw, nil); len(compressed) < len(raw) {
		encoding = encodingZstd
		payload = compressed
	}

	err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO events
		(dedup_key, time, channel, agent, kind, encoding, size, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			event.EffectiveDedupKey(),
			event.Time.UnixNano(),
			string(event.Source),
			event.Agent,
			string(event.Kind),
			encoding,
			len(raw),
			payload,
		},
	})
	if err != nil {
		return false, fmt.Errorf("history: insert event: %w", err)
	}
	return conn.Changes() > 0, nil
}

// Filter selects events for Replay. All fields are optional;
// zero-valued fields are not applied.
type Filter struct {
	Agent   string         // Exact match on agent name.
	Channel schema.Channel // Exact match on source channel.
	Kind    schema.EventKind
	Since   time.Time // Earliest event time, inclusive.
	Until   time.Time // Latest event time, inclusive.
	Limit   int       // Maximum events to return (default 1000).
}

// Replay returns stored events matching the filter in ascending time
// order, ties broken by insertion order. Ascending order is what the
// correlation store expects when rebuilding state.
func (s *Store) Replay(ctx context.Context, filter Filter) ([]schema.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: replay: %w", err)
	}
	defer s.pool.Put(conn)

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	var conditions []string
	var args []any
	if filter.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, filter.Agent)
	}
	if filter.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, string(filter.Channel))
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "time >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "time <= ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := "SELECT encoding, size, payload FROM events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY time ASC, id ASC LIMIT ?"
	args = append(args, limit)

	var events []schema.Event
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			event, err := decodeRow(stmt)
			if err != nil {
				return err
			}
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: replay query: %w", err)
	}
	return events, nil
}

// decodeRow reconstructs an event from the encoding(0), size(1),
// payload(2) columns.
func decodeRow(stmt *sqlite.Stmt) (schema.Event, error) {
	var event schema.Event

	payload := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, payload)

	switch encoding := stmt.ColumnInt(0); encoding {
	case encodingRaw:
	case encodingZstd:
		size := stmt.ColumnInt(1)
		raw, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return event, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(raw) != size {
			return event, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(raw), size)
		}
		payload = raw
	default:
		return event, fmt.Errorf("unknown payload encoding %d", encoding)
	}

	if err := codec.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM events", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return count, nil
}

// Sweep enforces the retention window and the event-count cap,
// dropping oldest rows first. Returns the number of rows removed.
// Safe to call from a background ticker.
func (s *Store) Sweep(ctx context.Context) (removed int64, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: sweep: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("history: sweep transaction: %w", err)
	}
	defer endTransaction(&err)

	if s.cfg.Retention > 0 {
		cutoff := s.clock.Now().Add(-s.cfg.Retention).UnixNano()
		err = sqlitex.Execute(conn, "DELETE FROM events WHERE time < ?", &sqlitex.ExecOptions{
			Args: []any{cutoff},
		})
		if err != nil {
			return 0, fmt.Errorf("history: retention delete: %w", err)
		}
		removed += int64(conn.Changes())
	}

	if s.cfg.MaxEvents > 0 {
		// Keep the MaxEvents newest rows by insertion order. Rowid
		// order tracks append order, which is what "oldest" means
		// here even when event timestamps arrive out of order.
		err = sqlitex.Execute(conn, `DELETE FROM events WHERE id <= (
				SELECT id FROM events ORDER BY id DESC LIMIT 1 OFFSET ?
			)`, &sqlitex.ExecOptions{
			Args: []any{s.cfg.MaxEvents},
		})
		if err != nil {
			return 0, fmt.Errorf("history: cap delete: %w", err)
		}
		removed += int64(conn.Changes())
	}

	if removed > 0 {
		s.logger.Info("history sweep", "removed", removed)
	}
	return removed, nil
}

// Stats describes the current state of the replay store.
type Stats struct {
	Events        int64     `json:"events"`
	OldestTime    time.Time `json:"oldest_time,omitzero"`
	NewestTime    time.Time `json:"newest_time,omitzero"`
	DatabaseBytes int64     `json:"database_bytes"`
}

// Stats returns storage statistics for the status endpoint.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("history: stats: %w", err)
	}
	defer s.pool.Put(conn)

	var stats Stats
	err = sqlitex.Execute(conn, "SELECT COUNT(*), MIN(time), MAX(time) FROM events", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.Events = stmt.ColumnInt64(0)
			if stats.Events > 0 {
				stats.OldestTime = time.Unix(0, stmt.ColumnInt64(1)).UTC()
				stats.NewestTime = time.Unix(0, stmt.ColumnInt64(2)).UTC()
			}
			return nil
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("history: stats query: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.DatabaseBytes = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("history: database size: %w", err)
	}
	return stats, nil
}
