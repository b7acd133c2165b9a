// Package sharpe derives risk-adjusted performance from daily realized P&L.
package sharpe

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultMinDays is the floor of daily observations below which no
	// Sharpe is assigned at all.
	DefaultMinDays = 3

	// sharpeCap bounds the capped ratio used for ranking and tiering.
	sharpeCap = 10.0

	// confidenceDays is the observation count at which confidence saturates.
	confidenceDays = 30.0

	// Prediction markets settle every day of the year.
	annualizationDays = 365.0
)

// dailyQuery buckets realized P&L by wallet and settlement date. Zero-P&L
// days are excluded; they carry no information about edge.
const dailyQuery = `
	SELECT
		wallet_id,
		toDate(resolved_at) AS day,
		sum(realized_pnl) AS pnl
	FROM position_pnl FINAL
	GROUP BY wallet_id, day
	HAVING abs(pnl) > 1e-9
	ORDER BY wallet_id, day`

type dailyRow struct {
	WalletID string    `ch:"wallet_id"`
	Day      time.Time `ch:"day"`
	PnL      float64   `ch:"pnl"`
}

// Calculator computes annualized Sharpe ratios per wallet.
type Calculator struct {
	store   store.Store
	log     zerolog.Logger
	minDays int
}

// NewCalculator creates a Sharpe calculator with the default day floor.
func NewCalculator(s store.Store, log zerolog.Logger) *Calculator {
	return &Calculator{
		store:   s,
		log:     log.With().Str("component", "sharpe").Logger(),
		minDays: DefaultMinDays,
	}
}

// Compute derives the Sharpe record for one wallet's daily P&L series.
// ok is false when the series is shorter than minDays.
func Compute(walletID string, daily []float64, minDays int) (domain.WalletSharpe, bool) {
	if len(daily) < minDays {
		return domain.WalletSharpe{}, false
	}

	mean := stat.Mean(daily, nil)
	std := math.Sqrt(stat.Moment(2, daily, nil))

	ratio := 0.0
	if std > 0 {
		ratio = mean / std * math.Sqrt(annualizationDays)
	}

	return domain.WalletSharpe{
		WalletID:     walletID,
		SharpeRatio:  ratio,
		SharpeCapped: math.Min(ratio, sharpeCap),
		MeanDailyPnL: mean,
		StdDailyPnL:  std,
		MaxDrawdown:  MaxDrawdown(daily),
		DaysWithPnL:  len(daily),
		Confidence:   math.Min(float64(len(daily))/confidenceDays, 1.0),
	}, true
}

// MaxDrawdown returns the largest peak-to-trough decline of the cumulative
// P&L series, as a positive number.
func MaxDrawdown(daily []float64) float64 {
	peak := 0.0
	cum := 0.0
	worst := 0.0
	for _, v := range daily {
		cum += v
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Run computes Sharpe ratios for every wallet with enough daily history.
// Returns the computed records; wallets below the day floor are excluded
// rather than given a degenerate value.
func (c *Calculator) Run(ctx context.Context) ([]domain.WalletSharpe, error) {
	var rows []dailyRow
	if err := c.store.Select(ctx, &rows, dailyQuery); err != nil {
		return nil, err
	}

	series := map[string][]float64{}
	for _, r := range rows {
		series[r.WalletID] = append(series[r.WalletID], r.PnL)
	}

	wallets := make([]string, 0, len(series))
	for w := range series {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	out := make([]domain.WalletSharpe, 0, len(wallets))
	skipped := 0
	for _, w := range wallets {
		s, ok := Compute(w, series[w], c.minDays)
		if !ok {
			skipped++
			continue
		}
		out = append(out, s)
	}

	c.log.Info().
		Int("computed", len(out)).
		Int("below_floor", skipped).
		Msg("Sharpe pass complete")
	return out, nil
}
