// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// BuildOptions carries the shared dependencies connector construction
// needs.
type BuildOptions struct {
	Catalog    *config.Catalog
	Probe      config.ProbeConfig
	Connector  config.ConnectorConfig
	DeadLetter *DeadLetter
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Build constructs the connector matching a channel's probed
// capability. Unavailable channels get the null connector; so do
// provider/channel combinations that make no sense (there is no CLI
// listing for pid files), which keeps capability handling total.
func Build(capability schema.Capability, opts BuildOptions) Connector {
	channel := capability.Channel
	if !capability.Available {
		return NewNull(channel)
	}

	source := opts.Catalog.Source(string(channel))
	switch capability.Provider {
	case schema.ProviderFilesystem:
		return buildFilesystem(channel, source, opts)

	case schema.ProviderCLI:
		normalize := normalizerFor(channel)
		if normalize == nil || len(source.CLIArgs) == 0 {
			return NewNull(channel)
		}
		return NewCLIChannel(channel, opts.Probe.CLIBinary, source.CLIArgs, normalize,
			opts.DeadLetter, opts.Connector.PollInterval, opts.Probe.CLITimeout,
			opts.Clock, opts.Logger)

	case schema.ProviderGateway:
		normalize := normalizerFor(channel)
		if normalize == nil || source.GatewayPath == "" {
			return NewNull(channel)
		}
		return NewGateway(channel, opts.Probe.GatewayURL+source.GatewayPath, normalize,
			opts.DeadLetter, opts.Connector.PollInterval, opts.Probe.GatewayTimeout,
			opts.Clock, opts.Logger)

	default:
		return NewNull(channel)
	}
}

func buildFilesystem(channel schema.Channel, source config.ChannelSource, opts BuildOptions) Connector {
	provider := schema.ProviderFilesystem
	cfg := opts.Connector

	switch channel {
	case schema.ChannelBus:
		return NewBus(source.Path, provider, opts.DeadLetter, cfg.MaxLineBytes,
			cfg.PollInterval, opts.Clock, opts.Logger)
	case schema.ChannelSessions:
		return NewSessions(source.Path, provider, opts.DeadLetter, cfg.MaxLineBytes,
			cfg.PollInterval, cfg.DisableSessionThoughts, opts.Clock, opts.Logger)
	case schema.ChannelCronJobs:
		return NewCronJobs(source.Path, provider, opts.DeadLetter,
			cfg.PollInterval, opts.Clock, opts.Logger)
	case schema.ChannelCronRuns:
		return NewCronRuns(source.Path, provider, opts.DeadLetter, cfg.MaxLineBytes,
			cfg.PollInterval, opts.Clock, opts.Logger)
	case schema.ChannelProcess:
		return NewProcess(source.Path, provider, cfg.PollInterval, opts.Clock, opts.Logger)
	case schema.ChannelLocks:
		return NewLocks(source.Path, provider, cfg.PollInterval, opts.Clock, opts.Logger)
	case schema.ChannelRequests:
		return NewRequests(source.Path, provider, opts.DeadLetter,
			cfg.PollInterval, opts.Clock, opts.Logger)
	default:
		return NewNull(channel)
	}
}

// normalizerFor returns the record normalizer used by CLI and gateway
// listings of a channel. Channels with no remote listing shape return
// nil.
func normalizerFor(channel schema.Channel) recordNormalizer {
	switch channel {
	case schema.ChannelBus:
		return func(record map[string]any, provider schema.ProviderKind, _ time.Time) (schema.Event, error) {
			return normalizeBusRecord(record, provider)
		}
	case schema.ChannelSessions:
		return func(record map[string]any, provider schema.ProviderKind, _ time.Time) (schema.Event, error) {
			return normalizeSessionRecord("", record, provider)
		}
	case schema.ChannelCronJobs:
		return normalizeCronJob
	case schema.ChannelCronRuns:
		return func(record map[string]any, provider schema.ProviderKind, _ time.Time) (schema.Event, error) {
			return normalizeCronRun(record, provider)
		}
	case schema.ChannelRequests:
		return normalizeRequestListing
	default:
		return nil
	}
}

// normalizeRequestListing maps one remote request-exchange record onto
// an event. Remote listings mark results with an explicit kind or a
// request_id back-reference.
func normalizeRequestListing(record map[string]any, provider schema.ProviderKind, fallback time.Time) (schema.Event, error) {
	id := stringField(record, "id", "request_id")
	if id == "" {
		return schema.Event{}, fmt.Errorf("%w: request record missing id", schema.ErrSchemaViolation)
	}

	when, err := parseTimestamp(firstPresent(record, "ts", "time", "timestamp", "created_at"))
	if err != nil {
		when = fallback
	}

	isResult := stringField(record, "kind", "type") == "result" ||
		stringField(record, "request_id") != ""

	event := schema.Event{
		ID:       id,
		Time:     when,
		Source:   schema.ChannelRequests,
		Provider: provider,
		Agent:    stringField(record, "agent", "target", "responder"),
		Kind:     schema.EventRequest,
		Text:     truncateText(stringField(record, "text", "body", "description"), 500),
	}
	if isResult {
		status := stringField(record, "status", "outcome")
		event.Kind = schema.EventResult
		event.ParentID = stringField(record, "request_id", "parent_id")
		event.Fields = map[string]any{"status": status}
		if status == "error" || status == "failed" {
			event.Severity = schema.SeverityError
		}
		event.DedupKey = "result:" + id + ":" + status
	} else {
		event.DedupKey = "request:" + id
	}
	return event, event.Validate()
}
