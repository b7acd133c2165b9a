// Package consensus detects directional agreement among smart-money wallets
// on a single market over a lookback window.
package consensus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Strength buckets the agreement percentage.
type Strength string

const (
	StrengthNone       Strength = "NONE"
	StrengthWeak       Strength = "WEAK"
	StrengthModerate   Strength = "MODERATE"
	StrengthStrong     Strength = "STRONG"
	StrengthVeryStrong Strength = "VERY_STRONG"
)

// StrengthFor buckets an agreement fraction. Below 0.55 there is no signal.
func StrengthFor(agreement float64) Strength {
	switch {
	case agreement >= 0.85:
		return StrengthVeryStrong
	case agreement >= 0.75:
		return StrengthStrong
	case agreement >= 0.65:
		return StrengthModerate
	case agreement >= 0.55:
		return StrengthWeak
	default:
		return StrengthNone
	}
}

// Confidence factor weights.
const (
	traderWeight  = 0.30
	volumeWeight  = 0.40
	qualityWeight = 0.30
)

// traderSaturation is the participant count at which the trader factor
// saturates: log(N+1)/log(21) reaches 1 at N=20.
const traderSaturation = 21.0

// Confidence combines participation, capital commitment and trader quality.
func Confidence(traders int, majorityVolume, totalVolume float64, majorityScores []float64) float64 {
	traderFactor := math.Min(1, math.Log(float64(traders)+1)/math.Log(traderSaturation))

	volumeFactor := 0.0
	if totalVolume > 0 {
		volumeFactor = majorityVolume / totalVolume
	}

	qualityFactor := 0.0
	if len(majorityScores) > 0 {
		qualityFactor = stat.Mean(majorityScores, nil) / 100
	}

	return traderWeight*traderFactor + volumeWeight*volumeFactor + qualityWeight*qualityFactor
}

// Config tunes the scanner.
type Config struct {
	Lookback       time.Duration
	MinTraders     int
	ScoreThreshold float64
}

// DefaultConfig is the shipped scanner configuration.
func DefaultConfig() Config {
	return Config{
		Lookback:       48 * time.Hour,
		MinTraders:     5,
		ScoreThreshold: 60,
	}
}

// stanceRow is one smart-money wallet's net stance on one market.
type stanceRow struct {
	MarketSlug  string  `ch:"market_slug"`
	WalletID    string  `ch:"wallet_id"`
	YesNotional float64 `ch:"yes_notional"`
	NoNotional  float64 `ch:"no_notional"`
	Score       float64 `ch:"total_score"`
}

// A BUY on the YES outcome and a SELL on the NO outcome both express a YES
// view; everything else expresses NO.
const stanceQuery = `
	SELECT
		t.market_slug AS market_slug,
		t.wallet_id AS wallet_id,
		sumIf(t.notional, (t.side = 'BUY' AND t.outcome_index = 0)
			OR (t.side = 'SELL' AND t.outcome_index = 1)) AS yes_notional,
		sumIf(t.notional, NOT ((t.side = 'BUY' AND t.outcome_index = 0)
			OR (t.side = 'SELL' AND t.outcome_index = 1))) AS no_notional,
		any(s.total_score) AS total_score
	FROM trades AS t
	INNER JOIN smart_money_scores AS s FINAL ON s.wallet_id = t.wallet_id
	WHERE t.ts >= @from
	  AND s.total_score >= @min_score
	  AND t.market_slug != ''
	GROUP BY t.market_slug, t.wallet_id`

// Scanner finds consensus signals across active markets.
type Scanner struct {
	store store.Store
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a consensus scanner.
func New(s store.Store, cfg Config, log zerolog.Logger) *Scanner {
	return &Scanner{
		store: s,
		cfg:   cfg,
		log:   log.With().Str("component", "consensus-scanner").Logger(),
		now:   time.Now,
	}
}

// Signal is one market's consensus state.
type Signal struct {
	MarketSlug     string
	Direction      string
	Strength       Strength
	AgreementPct   float64
	TraderCount    int
	TotalVolume    float64
	MajorityVolume float64
	Confidence     float64
}

// Evaluate computes the consensus signal for one market's stances. ok is
// false when too few traders take a side or agreement is below the weakest
// bucket.
func Evaluate(marketSlug string, stances []stanceRow, minTraders int) (Signal, bool) {
	var yesWallets, noWallets int
	var yesVolume, noVolume float64
	var yesScores, noScores []float64

	for _, s := range stances {
		switch {
		case s.YesNotional > s.NoNotional:
			yesWallets++
			yesVolume += s.YesNotional + s.NoNotional
			yesScores = append(yesScores, s.Score)
		case s.NoNotional > s.YesNotional:
			noWallets++
			noVolume += s.YesNotional + s.NoNotional
			noScores = append(noScores, s.Score)
		}
		// Equal flow on both sides is a neutral wallet, skipped.
	}

	taking := yesWallets + noWallets
	if taking < minTraders {
		return Signal{}, false
	}

	direction := "YES"
	majorityWallets, majorityVolume, majorityScores := yesWallets, yesVolume, yesScores
	if noWallets > yesWallets {
		direction = "NO"
		majorityWallets, majorityVolume, majorityScores = noWallets, noVolume, noScores
	}

	agreement := float64(majorityWallets) / float64(taking)
	strength := StrengthFor(agreement)
	if strength == StrengthNone {
		return Signal{}, false
	}

	return Signal{
		MarketSlug:     marketSlug,
		Direction:      direction,
		Strength:       strength,
		AgreementPct:   agreement,
		TraderCount:    taking,
		TotalVolume:    yesVolume + noVolume,
		MajorityVolume: majorityVolume,
		Confidence:     Confidence(taking, majorityVolume, yesVolume+noVolume, majorityScores),
	}, true
}

// severityFor maps consensus strength to alert severity.
func severityFor(s Strength) domain.Severity {
	switch s {
	case StrengthVeryStrong:
		return domain.SeverityHigh
	case StrengthStrong:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Scan evaluates every market with smart-money activity in the lookback
// window and returns one alert per consensus signal.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Alert, error) {
	from := s.now().UTC().Add(-s.cfg.Lookback)

	var rows []stanceRow
	err := s.store.Select(ctx, &rows, stanceQuery,
		store.Named("from", from), store.Named("min_score", s.cfg.ScoreThreshold))
	if err != nil {
		return nil, err
	}

	byMarket := map[string][]stanceRow{}
	for _, r := range rows {
		byMarket[r.MarketSlug] = append(byMarket[r.MarketSlug], r)
	}
	markets := make([]string, 0, len(byMarket))
	for m := range byMarket {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	var alerts []domain.Alert
	for _, m := range markets {
		sig, ok := Evaluate(m, byMarket[m], s.cfg.MinTraders)
		if !ok {
			continue
		}
		alerts = append(alerts, s.toAlert(sig))
	}

	s.log.Info().Int("markets", len(byMarket)).Int("signals", len(alerts)).Msg("Consensus scan complete")
	return alerts, nil
}

func (s *Scanner) toAlert(sig Signal) domain.Alert {
	title := fmt.Sprintf("%s consensus on %s", sig.Strength, sig.MarketSlug)
	message := fmt.Sprintf("%d smart-money wallets lean %s (%.0f%% agreement, $%.0f committed)",
		sig.TraderCount, sig.Direction, sig.AgreementPct*100, sig.TotalVolume)

	return domain.NewAlert(domain.AlertConsensus, severityFor(sig.Strength),
		title, message, "", sig.MarketSlug,
		&domain.ConsensusPayload{
			MarketSlug:   sig.MarketSlug,
			Direction:    sig.Direction,
			Strength:     string(sig.Strength),
			AgreementPct: sig.AgreementPct,
			TraderCount:  sig.TraderCount,
			TotalVolume:  sig.TotalVolume,
			Confidence:   sig.Confidence,
		})
}
