// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"fmt"
	"time"

	"github.com/openclaw/observatory/schema"
)

// parseTimestamp accepts the timestamp shapes found in swarm sources:
// RFC 3339 strings, epoch seconds (possibly fractional), and epoch
// milliseconds. JSON numbers arrive as float64.
func parseTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", schema.ErrSchemaViolation, v)
	case float64:
		// Millisecond epochs are unambiguously larger than any sane
		// second epoch.
		if v > 1e12 {
			return time.UnixMilli(int64(v)).UTC(), nil
		}
		seconds := int64(v)
		nanos := int64((v - float64(seconds)) * float64(time.Second))
		return time.Unix(seconds, nanos).UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("%w: missing timestamp", schema.ErrSchemaViolation)
	default:
		return time.Time{}, fmt.Errorf("%w: timestamp has type %T", schema.ErrSchemaViolation, value)
	}
}

// stringField pulls a string out of a decoded JSON object, tolerating
// absence.
func stringField(record map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := record[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// truncateText caps display text at n runes, appending an ellipsis
// marker when cut.
func truncateText(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// severityFor maps source severity words onto the schema grades.
func severityFor(word string) schema.Severity {
	switch word {
	case "debug", "trace":
		return schema.SeverityDebug
	case "warn", "warning":
		return schema.SeverityWarn
	case "error", "fatal", "critical":
		return schema.SeverityError
	case "":
		return ""
	default:
		return schema.SeverityInfo
	}
}
