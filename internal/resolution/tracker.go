package resolution

import (
	"context"
	"time"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// winningPriceFloor marks an outcome as settled-in-the-money.
const winningPriceFloor = 0.99

// marketLister is the slice of the metadata client the tracker needs.
type marketLister interface {
	ClosedMarkets(ctx context.Context, limit, offset int) ([]Market, error)
}

// Tracker discovers newly resolved markets for the condition ids seen in
// trades and persists them. Re-running is idempotent: resolutions are keyed
// by condition id with replace-on-insert semantics.
type Tracker struct {
	store  store.Store
	client marketLister
	log    zerolog.Logger
}

// NewTracker creates a resolution tracker.
func NewTracker(s store.Store, client marketLister, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:  s,
		client: client,
		log:    log.With().Str("component", "resolution-tracker").Logger(),
	}
}

// Winner returns the index of the winning outcome. A market is considered
// resolved only when exactly one outcome price has reached the floor; the
// first such index wins.
func Winner(prices []float64) (int, bool) {
	winner := -1
	count := 0
	for i, p := range prices {
		if p >= winningPriceFloor {
			count++
			if winner < 0 {
				winner = i
			}
		}
	}
	if count != 1 {
		return 0, false
	}
	return winner, true
}

// pendingConditionIDs lists condition ids present in trades that have no
// resolved row yet.
func (t *Tracker) pendingConditionIDs(ctx context.Context) (map[string]bool, error) {
	var rows []struct {
		ConditionID string `ch:"condition_id"`
	}
	err := t.store.Select(ctx, &rows, `
		SELECT DISTINCT condition_id
		FROM trades
		WHERE condition_id != ''
		  AND condition_id NOT IN (
			SELECT condition_id FROM market_resolutions FINAL WHERE is_resolved
		  )`)
	if err != nil {
		return nil, err
	}
	pending := make(map[string]bool, len(rows))
	for _, r := range rows {
		pending[r.ConditionID] = true
	}
	return pending, nil
}

// Run performs one resolution pass: list unresolved condition ids, page
// through the metadata API newest-closed-first, and persist every market
// that settled. Individual page failures are logged and skipped; the pass
// continues with the next page.
func (t *Tracker) Run(ctx context.Context) (int, error) {
	pending, err := t.pendingConditionIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		t.log.Debug().Msg("No unresolved markets")
		return 0, nil
	}
	t.log.Info().Int("pending", len(pending)).Msg("Checking for resolutions")

	var resolved []domain.MarketResolution
	for page := 0; page < maxPages && len(pending) > 0; page++ {
		if ctx.Err() != nil {
			break
		}

		markets, err := t.client.ClosedMarkets(ctx, pageSize, page*pageSize)
		if err != nil {
			t.log.Warn().Err(err).Int("page", page).Msg("Skipping metadata page after error")
			continue
		}
		if len(markets) == 0 {
			break
		}

		for _, m := range markets {
			if !pending[m.ConditionID] || !m.Closed {
				continue
			}
			res, ok := t.toResolution(m)
			if !ok {
				continue
			}
			resolved = append(resolved, res)
			delete(pending, m.ConditionID)
		}
	}

	if len(resolved) == 0 {
		t.log.Info().Msg("No new resolutions found")
		return 0, nil
	}

	if err := t.store.InsertBatch(ctx, "market_resolutions", resolved); err != nil {
		return 0, err
	}
	t.log.Info().Int("resolved", len(resolved)).Msg("Persisted market resolutions")
	return len(resolved), nil
}

// toResolution converts an API market into a resolution row, rejecting
// markets without a settled winner.
func (t *Tracker) toResolution(m Market) (domain.MarketResolution, bool) {
	idx, ok := Winner(m.OutcomePrices)
	if !ok {
		return domain.MarketResolution{}, false
	}

	label := ""
	if idx < len(m.Outcomes) {
		label = m.Outcomes[idx]
	}
	endTime := time.Time{}
	if m.EndDate != nil {
		endTime = m.EndDate.UTC()
	}

	return domain.MarketResolution{
		ConditionID:         m.ConditionID,
		MarketSlug:          m.Slug,
		Title:               m.Question,
		IsResolved:          true,
		WinningOutcomeLabel: label,
		WinningOutcomeIndex: int32(idx),
		OutcomePrices:       m.OutcomePrices,
		Outcomes:            m.Outcomes,
		EndTime:             endTime,
		ResolutionTime:      time.Now().UTC(),
	}, true
}
