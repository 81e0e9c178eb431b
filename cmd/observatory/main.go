// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/openclaw/observatory/capability"
	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/connector"
	"github.com/openclaw/observatory/correlate"
	"github.com/openclaw/observatory/docscan"
	"github.com/openclaw/observatory/drilldown"
	"github.com/openclaw/observatory/history"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath      string
		workspace       string
		listen          string
		modeOverride    string
		pollInterval    time.Duration
		disableThoughts bool
		logLevel        string
	)

	flagSet := pflag.NewFlagSet("observatory", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config (default: $OBSERVATORY_CONFIG, else built-in defaults)")
	flagSet.StringVar(&workspace, "workspace", "", "swarm workspace root override")
	flagSet.StringVar(&listen, "listen", "", "read API listen address override")
	flagSet.StringVar(&modeOverride, "mode", "", "force operating mode (minimal|portable|strict)")
	flagSet.DurationVar(&pollInterval, "poll", 0, "connector poll interval override")
	flagSet.BoolVar(&disableThoughts, "disable-session-thoughts", false, "drop agent-internal reasoning from session transcripts")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.LoadOverridden(configPath, func(cfg *config.Config) {
		if workspace != "" {
			cfg.Workspace = workspace
		}
		if listen != "" {
			cfg.Server.Listen = listen
		}
		if modeOverride != "" {
			cfg.ModeOverride = modeOverride
		}
		if pollInterval > 0 {
			cfg.Connector.PollInterval = pollInterval
		}
		if disableThoughts {
			cfg.Connector.DisableSessionThoughts = true
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve runs the full pipeline: probe, connectors, correlation, read
// API. Blocks until ctx is cancelled and everything drains.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.Real()

	catalog, err := config.LoadCatalog(cfg.CatalogFile, cfg.Workspace)
	if err != nil {
		return err
	}

	// Bootstrap: probe every canonical channel. This is the only
	// stage allowed to abort startup; everything after it degrades.
	prober := capability.NewProber(cfg.Probe, catalog, logger)
	capabilities, err := prober.ProbeAll(ctx, cfg.Workspace)
	if err != nil {
		return err
	}
	registry, err := capability.NewRegistry(capabilities, cfg.ModeOverride, cfg.Probe.DemoteAfter, logger)
	if err != nil {
		return err
	}

	store := correlate.NewStore(cfg.Correlate, clk, logger)
	notifier := correlate.NewNotifier(cfg.Correlate.CoalesceInterval, registry.Mode, clk, logger)
	defer notifier.Close()
	// Push handlers block on their subscription until the notifier
	// closes; close it the moment shutdown begins so the HTTP drain
	// does not wait out its full grace on attached subscribers.
	stopNotifier := context.AfterFunc(ctx, notifier.Close)
	defer stopNotifier()

	var replay *history.Store
	if cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
			logger.Warn("history directory unavailable, running without replay", "error", err)
		} else if replay, err = history.Open(cfg.History, clk, logger); err != nil {
			// Degrade rather than abort: the observatory is useful
			// without restart replay.
			logger.Warn("history store unavailable, running without replay", "error", err)
			replay = nil
		} else {
			defer replay.Close()
			restoreHistory(ctx, replay, store, cfg.History.MaxEvents, logger)
		}
	}

	scanner, err := docscan.NewScanner(cfg.Workspace, cfg.Docs, clk, logger)
	if err != nil {
		return err
	}
	assembler := drilldown.NewAssembler(store, scanner, cfg.ActivationCap(), clk, logger)

	api := server.NewAPI(registry, store, assembler, scanner, notifier, clk, logger)
	httpServer := server.New(server.Config{
		Address:       cfg.Server.Listen,
		Handler:       api.Handler(),
		ShutdownGrace: cfg.Server.ShutdownGrace,
		Logger:        logger,
	})

	pipeline := &pipeline{
		cfg:      cfg,
		catalog:  catalog,
		registry: registry,
		prober:   prober,
		store:    store,
		notifier: notifier,
		replay:   replay,
		deadLet:  connector.NewDeadLetter(cfg.Connector.DeadLetterDir, logger, clk),
		clock:    clk,
		logger:   logger,
	}

	serveDone := make(chan error, 1)
	go func() { serveDone <- httpServer.Serve(ctx) }()

	pipeline.run(ctx)

	if err := <-serveDone; err != nil {
		return err
	}
	logger.Info("observatory stopped")
	return nil
}

// restoreHistory replays persisted events into the correlation store
// so a restart resumes with fused state instead of a cold cache.
func restoreHistory(ctx context.Context, replay *history.Store, store *correlate.Store, limit int, logger *slog.Logger) {
	events, err := replay.Replay(ctx, history.Filter{Limit: limit})
	if err != nil {
		logger.Warn("history replay failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}
	changed := store.ApplySnapshot(events)
	logger.Info("history replayed",
		"events", len(events),
		"agents", len(changed),
	)
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Observatory — capability-aware telemetry core for agent swarms.

Probes the workspace for telemetry channels (bus, sessions, cron,
process, locks, requests), fuses whatever it finds into per-agent
state, and serves a read API with drilldowns, decision traces, and
causal graphs. Missing channels degrade coverage; they never prevent
startup.

Usage:
  observatory [flags]

Flags:
%s
Configuration comes from --config, the OBSERVATORY_CONFIG environment
variable, or built-in defaults, in that order. Flags override the
file.
`, flagSet.FlagUsages())
}
