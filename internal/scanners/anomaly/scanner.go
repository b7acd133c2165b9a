// Package anomaly runs SQL-driven detectors for suspicious trading patterns:
// statistical anomalies over settled positions and insider-style entries into
// markets where private information could exist.
package anomaly

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// Config tunes detector thresholds and the insider exclusion set.
type Config struct {
	Lookback time.Duration

	// Statistical detectors.
	WinRateFloor      float64 // flag above this win rate
	WinRateMinTrades  uint64
	TimingMaxCV       float64
	TimingMaxMeanGapS float64
	TimingMinTrades   uint64
	WashMinTrades     uint64
	SharpeCeiling     float64
	SharpeMinTrades   uint64
	StreakCeiling     uint64

	// Insider detectors.
	NewAccountMaxAge       time.Duration
	WhaleBetFloor          float64
	ConcentrationFloor     float64
	SpikeMultiple          float64
	SpikeImbalanceFloor    float64
	DivergenceMinWallets   int
	CoordinationMinWallets int
	CoordinationWindow     time.Duration
	CoordinationMinVolume  float64
	ConvictionBetFloor     float64

	// ExcludedSlugPatterns are SQL LIKE globs for short-horizon price
	// markets. Insider detectors never fire on matching slugs: those
	// markets resolve on public price feeds, so there is nothing to know
	// in advance.
	ExcludedSlugPatterns []string
}

// DefaultConfig returns the shipped thresholds.
func DefaultConfig() Config {
	return Config{
		Lookback:          24 * time.Hour,
		WinRateFloor:      0.85,
		WinRateMinTrades:  30,
		TimingMaxCV:       0.1,
		TimingMaxMeanGapS: 5,
		TimingMinTrades:   50,
		WashMinTrades:     100,
		SharpeCeiling:     5.0,
		SharpeMinTrades:   20,
		StreakCeiling:     20,

		NewAccountMaxAge:       7 * 24 * time.Hour,
		WhaleBetFloor:          5_000,
		ConcentrationFloor:     0.8,
		SpikeMultiple:          10,
		SpikeImbalanceFloor:    0.7,
		DivergenceMinWallets:   3,
		CoordinationMinWallets: 3,
		CoordinationWindow:     120 * time.Minute,
		CoordinationMinVolume:  10_000,
		ConvictionBetFloor:     10_000,

		ExcludedSlugPatterns: []string{
			"%updown-15m%",
			"%updown-1h%",
			"%-15m-%",
			"%-1h-%",
		},
	}
}

// Excluded reports whether a market slug matches the short-horizon exclusion
// set. Detectors apply the same patterns in SQL via a NOT-LIKE conjunction;
// this is the in-memory equivalent for rows that arrive anyway.
func (c Config) Excluded(slug string) bool {
	for _, pattern := range c.ExcludedSlugPatterns {
		if likeMatch(pattern, slug) {
			return true
		}
	}
	return false
}

// likeMatch evaluates a SQL LIKE glob (% and _) against s.
func likeMatch(pattern, s string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile("(?i)" + sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// notExcluded renders the exclusion set as a SQL conjunction over column.
func (c Config) notExcluded(column string) string {
	return store.NotLikeAll(column, c.ExcludedSlugPatterns)
}

// Scanner runs every detector against the store.
type Scanner struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

// New creates an anomaly scanner.
func New(s store.Store, cfg Config, log zerolog.Logger) *Scanner {
	return &Scanner{
		store: s,
		cfg:   cfg,
		log:   log.With().Str("component", "anomaly-scanner").Logger(),
		now:   time.Now,
	}
}

// detector is one named detection pass.
type detector struct {
	name string
	run  func(ctx context.Context) ([]domain.Alert, error)
}

// Scan runs all detectors concurrently and merges their alerts. Detectors
// share no mutable state; a failing detector is logged and contributes
// nothing, the rest proceed.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Alert, error) {
	detectors := []detector{
		{"win_rate", s.scanWinRate},
		{"timing", s.scanTiming},
		{"volume_concentration", s.scanWash},
		{"impossible_sharpe", s.scanSharpe},
		{"win_streak", s.scanStreak},
		{"insider", s.scanInsider},
	}

	var (
		mu     sync.Mutex
		alerts []domain.Alert
		wg     sync.WaitGroup
	)
	for _, d := range detectors {
		wg.Add(1)
		go func(d detector) {
			defer wg.Done()
			found, err := d.run(ctx)
			if err != nil {
				s.log.Error().Err(err).Str("detector", d.name).Msg("Detector failed")
				return
			}
			mu.Lock()
			alerts = append(alerts, found...)
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	s.log.Info().Int("alerts", len(alerts)).Msg("Anomaly scan complete")
	return alerts, nil
}
