// Package main is the entry point for the psi-engine smart money analytics
// service. The engine periodically ingests market resolutions, rebuilds
// wallet profiles and P&L, scores every tracked wallet, rebalances the smart
// money indices and runs the alert scanners, fanning findings out to the
// configured sinks.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/psilabs/psi-engine/internal/alerting"
	"github.com/psilabs/psi-engine/internal/alerting/sinks"
	"github.com/psilabs/psi-engine/internal/classifier"
	"github.com/psilabs/psi-engine/internal/config"
	"github.com/psilabs/psi-engine/internal/features"
	"github.com/psilabs/psi-engine/internal/index"
	"github.com/psilabs/psi-engine/internal/orchestrator"
	"github.com/psilabs/psi-engine/internal/pnl"
	"github.com/psilabs/psi-engine/internal/resolution"
	"github.com/psilabs/psi-engine/internal/scanners/anomaly"
	"github.com/psilabs/psi-engine/internal/scanners/consensus"
	"github.com/psilabs/psi-engine/internal/scanners/decay"
	"github.com/psilabs/psi-engine/internal/scanners/gems"
	"github.com/psilabs/psi-engine/internal/scheduler"
	"github.com/psilabs/psi-engine/internal/scoring"
	"github.com/psilabs/psi-engine/internal/sharpe"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/psilabs/psi-engine/pkg/logger"
	"github.com/rs/zerolog"
)

// shutdownGrace bounds how long a graceful stop may take.
const shutdownGrace = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Error().Err(err).Msg("Invalid configuration")
		return 2
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel})
	logger.SetGlobalLogger(log)

	gateway, err := store.Open(cfg.Store.ToStoreConfig(), log)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to store")
		return 1
	}
	defer gateway.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx, gateway); err != nil {
		log.Error().Err(err).Msg("Schema migration failed")
		return 1
	}

	dispatcher := alerting.NewDispatcher(gateway, buildSinks(cfg, log), alerting.Config{
		MinSeverity:  cfg.AlertMinSeverity,
		DedupTTL:     time.Duration(cfg.AlertDedupTTLHours) * time.Hour,
		SnapshotPath: cfg.AlertSnapshotPath,
	}, log)

	extractor := features.NewExtractor(gateway, log)
	pipeline := orchestrator.New(orchestrator.Deps{
		Store:       gateway,
		Resolutions: resolution.NewTracker(gateway, resolution.NewClient(cfg.MarketAPIURL, log), log),
		Classifier:  classifier.New(gateway, log),
		Features:    extractor,
		PnL:         pnl.NewCalculator(gateway, log),
		Sharpe:      sharpe.NewCalculator(gateway, log),
		Scorer:      scoring.NewScorer(gateway, log),
		Profiler:    classifier.NewProfiler(gateway, log),
		Indices:     index.NewBuilder(gateway, index.DefaultConfigs(), log),
		Consensus:   consensus.New(gateway, consensus.DefaultConfig(), log),
		Decay:       decay.New(extractor, decay.DefaultConfig(), log),
		Anomaly:     anomaly.New(gateway, anomaly.DefaultConfig(), log),
		Gems:        gems.New(gateway, gems.DefaultConfig(), log),
		Alerts:      dispatcher,
	}, log)

	sched := scheduler.New(log)
	sched.Register("analytics-cycle",
		time.Duration(cfg.SchedulerIntervalSeconds)*time.Second,
		pipeline.RunCycle)
	sched.Start(ctx)

	log.Info().Msg("Engine running")
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	sched.Stop(shutdownGrace)
	if err := dispatcher.Close(); err != nil {
		log.Warn().Err(err).Msg("Could not persist dedup snapshot")
	}
	log.Info().Msg("Engine stopped")
	return 0
}

// buildSinks assembles the alert sinks present in the configuration.
func buildSinks(cfg *config.Config, log zerolog.Logger) []alerting.Sink {
	var out []alerting.Sink
	if cfg.ChatWebhookURL != "" {
		out = append(out, sinks.NewChatSink(cfg.ChatWebhookURL, log))
	}
	if cfg.BotToken != "" {
		threadID := ""
		if cfg.BotThreadID != 0 {
			threadID = strconv.Itoa(cfg.BotThreadID)
		}
		out = append(out, sinks.NewBotSink(cfg.BotToken, cfg.BotChatID, threadID, log))
	}
	if endpoints := cfg.WebhookEndpoints(); len(endpoints) > 0 {
		out = append(out, sinks.NewWebhookSink(endpoints, cfg.WebhookSecret, cfg.WebhookAuth, log))
	}
	if len(out) == 0 {
		log.Warn().Msg("No alert sinks configured, alerts will only be stored")
	}
	return out
}
