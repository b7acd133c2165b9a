// Package decay flags wallets whose edge is fading by comparing a recent
// activity window against the preceding baseline.
package decay

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/features"
	"github.com/rs/zerolog"
)

// Config tunes the windows and the decay thresholds.
type Config struct {
	RecentWindow     time.Duration
	HistoricalWindow time.Duration

	// MinRecentTrades and MinHistoricalTrades gate wallets with too little
	// activity to compare.
	MinRecentTrades     uint64
	MinHistoricalTrades uint64

	// WinRateDrop is the absolute drop that triggers a signal.
	WinRateDrop float64
	// PnLPerTradeDropFrac triggers when recent P&L per trade falls below
	// this fraction of the baseline (baseline must be positive).
	PnLPerTradeDropFrac float64
	// SharpeDropFrac triggers when the recent window Sharpe falls below
	// this fraction of the baseline Sharpe. MinBaselineSharpe keeps noisy
	// near-zero baselines from firing the signal.
	SharpeDropFrac    float64
	MinBaselineSharpe float64
	// BiasDrift and SetRatioDrift are the absolute changes in direction
	// bias and complete set ratio that count as strategy drift. Either one
	// triggers.
	BiasDrift     float64
	SetRatioDrift float64
}

// DefaultConfig compares the trailing week against the preceding 30 days.
func DefaultConfig() Config {
	return Config{
		RecentWindow:        7 * 24 * time.Hour,
		HistoricalWindow:    30 * 24 * time.Hour,
		MinRecentTrades:     5,
		MinHistoricalTrades: 20,
		WinRateDrop:         0.15,
		PnLPerTradeDropFrac: 0.5,
		SharpeDropFrac:      0.5,
		MinBaselineSharpe:   0.5,
		BiasDrift:           0.25,
		SetRatioDrift:       0.25,
	}
}

// windower is the slice of the feature extractor the detector needs.
type windower interface {
	Windows(ctx context.Context, from, to time.Time) ([]features.WalletWindow, error)
}

// Detector compares per-wallet windows and emits decay alerts.
type Detector struct {
	features windower
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// New creates an edge-decay detector.
func New(f windower, cfg Config, log zerolog.Logger) *Detector {
	return &Detector{
		features: f,
		cfg:      cfg,
		log:      log.With().Str("component", "decay-detector").Logger(),
		now:      time.Now,
	}
}

// SignalKind names one decay symptom.
type SignalKind string

const (
	SignalWinRateDrop   SignalKind = "win_rate_drop"
	SignalPnLDecline    SignalKind = "pnl_per_trade_decline"
	SignalSharpeDecline SignalKind = "sharpe_degradation"
	SignalDrift         SignalKind = "strategy_drift"
)

// Signal is one detected symptom for one wallet.
type Signal struct {
	Kind     SignalKind
	Recent   float64
	Baseline float64
}

// Magnitude is the size of the degradation, normalized to the baseline where
// one exists.
func (s Signal) Magnitude() float64 {
	switch s.Kind {
	case SignalDrift:
		return math.Abs(s.Recent - s.Baseline)
	default:
		if s.Baseline == 0 {
			return math.Abs(s.Recent)
		}
		return (s.Baseline - s.Recent) / math.Abs(s.Baseline)
	}
}

// Evaluate compares one wallet's windows against the thresholds. Pure.
func Evaluate(cfg Config, recent, baseline features.WalletWindow) []Signal {
	if recent.Trades < cfg.MinRecentTrades || baseline.Trades < cfg.MinHistoricalTrades {
		return nil
	}

	var signals []Signal

	if recent.Wins+recent.Losses > 0 && baseline.Wins+baseline.Losses > 0 {
		if baseline.WinRate()-recent.WinRate() >= cfg.WinRateDrop {
			signals = append(signals, Signal{SignalWinRateDrop, recent.WinRate(), baseline.WinRate()})
		}
	}

	if baseline.PnLPerTrade() > 0 && recent.PnLPerTrade() < baseline.PnLPerTrade()*cfg.PnLPerTradeDropFrac {
		signals = append(signals, Signal{SignalPnLDecline, recent.PnLPerTrade(), baseline.PnLPerTrade()})
	}

	if baseline.Sharpe() >= cfg.MinBaselineSharpe && recent.Sharpe() < baseline.Sharpe()*cfg.SharpeDropFrac {
		signals = append(signals, Signal{SignalSharpeDecline, recent.Sharpe(), baseline.Sharpe()})
	}

	if math.Abs(recent.DirectionBias-baseline.DirectionBias) >= cfg.BiasDrift {
		signals = append(signals, Signal{SignalDrift, recent.DirectionBias, baseline.DirectionBias})
	} else if math.Abs(recent.CompleteSetRatio-baseline.CompleteSetRatio) >= cfg.SetRatioDrift {
		signals = append(signals, Signal{SignalDrift, recent.CompleteSetRatio, baseline.CompleteSetRatio})
	}

	return signals
}

// Scan runs one decay pass and returns per-wallet alerts. The signals are
// informational; the recommended action never exceeds "review".
func (d *Detector) Scan(ctx context.Context) ([]domain.Alert, error) {
	now := d.now().UTC()
	recentFrom := now.Add(-d.cfg.RecentWindow)
	histFrom := recentFrom.Add(-d.cfg.HistoricalWindow)

	recent, err := d.features.Windows(ctx, recentFrom, now)
	if err != nil {
		return nil, err
	}
	baseline, err := d.features.Windows(ctx, histFrom, recentFrom)
	if err != nil {
		return nil, err
	}

	baseByWallet := make(map[string]features.WalletWindow, len(baseline))
	for _, w := range baseline {
		baseByWallet[w.WalletID] = w
	}

	sort.Slice(recent, func(i, j int) bool { return recent[i].WalletID < recent[j].WalletID })

	var alerts []domain.Alert
	for _, rw := range recent {
		bw, ok := baseByWallet[rw.WalletID]
		if !ok {
			continue
		}
		for _, sig := range Evaluate(d.cfg, rw, bw) {
			alerts = append(alerts, toAlert(rw.WalletID, sig))
		}
	}

	d.log.Info().Int("wallets", len(recent)).Int("signals", len(alerts)).Msg("Decay scan complete")
	return alerts, nil
}

func toAlert(walletID string, sig Signal) domain.Alert {
	title := fmt.Sprintf("Edge decay: %s", sig.Kind)
	message := fmt.Sprintf("Wallet %s: %s moved from %.3f to %.3f",
		walletID, sig.Kind, sig.Baseline, sig.Recent)

	return domain.NewAlert(domain.AlertEdgeDecay, domain.SeverityMedium,
		title, message, walletID, "",
		&domain.DecayPayload{
			Signal:        string(sig.Kind),
			RecentValue:   sig.Recent,
			BaselineValue: sig.Baseline,
			Magnitude:     sig.Magnitude(),
			Action:        "review",
		})
}
