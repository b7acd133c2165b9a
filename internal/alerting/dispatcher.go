// Package alerting routes detector alerts to notification sinks through a
// severity gate and a TTL deduplication cache.
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// maxDedupEntries bounds the dedup cache.
const maxDedupEntries = 10_000

// Sink delivers one alert to one destination. Send reports success; failures
// are the sink's to log.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert domain.Alert) bool
}

// Stats counts dispatcher outcomes since construction.
type Stats struct {
	Dispatched   uint64
	Filtered     uint64
	Deduplicated uint64
	Failed       uint64
}

// Config tunes the dispatcher.
type Config struct {
	MinSeverity  domain.Severity
	DedupTTL     time.Duration
	SnapshotPath string
}

// Dispatcher runs each alert through severity gate, dedup check and sink
// fan-out, and records accepted alerts to the store.
type Dispatcher struct {
	sinks []Sink
	store store.Store
	cfg   Config
	dedup *dedupCache
	log   zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewDispatcher creates a dispatcher over the given sinks. A previously
// saved dedup snapshot is restored when the configured path exists.
func NewDispatcher(s store.Store, sinks []Sink, cfg Config, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		sinks: sinks,
		store: s,
		cfg:   cfg,
		dedup: newDedupCache(cfg.DedupTTL, maxDedupEntries),
		log:   log.With().Str("component", "dispatcher").Logger(),
	}
	if cfg.SnapshotPath != "" {
		if err := d.dedup.Load(cfg.SnapshotPath); err != nil {
			d.log.Warn().Err(err).Msg("Could not restore dedup snapshot, starting empty")
		}
	}
	return d
}

// Dispatch fans out every alert that passes the gates. An alert counts as
// dispatched when at least one sink accepted it, or when no sinks are
// configured and the alert is stored only. The dedup key is recorded after
// acceptance, not before, so an alert that every sink rejected is retried on
// the next batch instead of being suppressed for the TTL.
func (d *Dispatcher) Dispatch(ctx context.Context, alerts []domain.Alert) Stats {
	var accepted []alertRow
	for _, alert := range alerts {
		if domain.SeverityRank(alert.Severity) < domain.SeverityRank(d.cfg.MinSeverity) {
			d.bump(func(s *Stats) { s.Filtered++ })
			continue
		}
		if d.dedup.Contains(alert.DedupKey()) {
			d.bump(func(s *Stats) { s.Deduplicated++ })
			d.log.Debug().Str("alert", alert.AlertID).Msg("Duplicate alert dropped")
			continue
		}

		delivered := false
		for _, sink := range d.sinks {
			if sink.Send(ctx, alert) {
				delivered = true
			} else {
				d.log.Warn().Str("sink", sink.Name()).Str("alert", alert.AlertID).Msg("Sink delivery failed")
			}
		}

		if delivered || len(d.sinks) == 0 {
			d.dedup.Remember(alert.DedupKey())
			d.bump(func(s *Stats) { s.Dispatched++ })
			if delivered {
				now := time.Now().UTC()
				alert.DeliveredAt = &now
			}
			accepted = append(accepted, toRow(alert))
		} else {
			d.bump(func(s *Stats) { s.Failed++ })
		}
	}

	if len(accepted) > 0 {
		if err := d.store.InsertBatch(ctx, "alerts", accepted); err != nil {
			d.log.Error().Err(err).Msg("Failed to persist alerts")
		}
	}

	stats := d.Stats()
	d.log.Info().
		Uint64("dispatched", stats.Dispatched).
		Uint64("filtered", stats.Filtered).
		Uint64("deduplicated", stats.Deduplicated).
		Msg("Dispatch batch complete")
	return stats
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close snapshots the dedup cache to disk.
func (d *Dispatcher) Close() error {
	if d.cfg.SnapshotPath == "" {
		return nil
	}
	return d.dedup.Save(d.cfg.SnapshotPath)
}

func (d *Dispatcher) bump(f func(*Stats)) {
	d.mu.Lock()
	f(&d.stats)
	d.mu.Unlock()
}

// alertRow is the persisted shape of an accepted alert. DeliveredAt is nil
// for alerts that were stored without a sink delivery.
type alertRow struct {
	AlertID     string           `ch:"alert_id"`
	Type        domain.AlertType `ch:"alert_type"`
	Severity    domain.Severity  `ch:"severity"`
	Title       string           `ch:"title"`
	Message     string           `ch:"message"`
	WalletID    string           `ch:"wallet_id"`
	MarketID    string           `ch:"market_id"`
	Payload     string           `ch:"payload"`
	CreatedAt   time.Time        `ch:"created_at"`
	DeliveredAt *time.Time       `ch:"delivered_at"`
}

func toRow(a domain.Alert) alertRow {
	payload := ""
	if body, err := a.MarshalJSON(); err == nil {
		payload = string(body)
	}
	return alertRow{
		AlertID:     a.AlertID,
		Type:        a.Type,
		Severity:    a.Severity,
		Title:       a.Title,
		Message:     a.Message,
		WalletID:    a.WalletID,
		MarketID:    a.MarketID,
		Payload:     payload,
		CreatedAt:   a.CreatedAt,
		DeliveredAt: a.DeliveredAt,
	}
}
