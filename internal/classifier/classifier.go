// Package classifier assigns market categories from slug and title text.
// Classification is keyword driven: each category carries an ordered list of
// patterns, most matches wins.
package classifier

import (
	"context"
	"regexp"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store"
	"github.com/rs/zerolog"
)

// confidencePerMatch converts a match count into [0,1] confidence.
const confidencePerMatch = 0.25

type categoryPatterns struct {
	category domain.MarketCategory
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Category order matters only for deterministic tie-breaking: the earlier
// category wins a tie.
var categories = []categoryPatterns{
	{domain.CategoryCrypto, compile(
		`\b(btc|bitcoin)\b`, `\b(eth|ethereum)\b`, `\b(sol|solana)\b`,
		`\bcrypto`, `\b(doge|xrp|ada|bnb)\b`, `\b(defi|stablecoin|altcoin)\b`,
		`updown`, `\bsatoshis?\b`,
	)},
	{domain.CategoryPolitics, compile(
		`\belection`, `\bpresident`, `\b(senate|congress|parliament)\b`,
		`\b(democrat|republican|gop)\b`, `\b(trump|biden|harris)\b`,
		`\b(governor|mayor|minister)\b`, `\bimpeach`, `\b(vote|ballot|primary)\b`,
	)},
	{domain.CategorySports, compile(
		`\b(nfl|nba|mlb|nhl|ufc|fifa)\b`, `\bsuper-?bowl\b`, `\bworld-?cup\b`,
		`\b(playoffs?|championship|finals)\b`, `\b(wins?|beats?)-vs\b`,
		`\b(soccer|football|basketball|baseball|tennis|golf)\b`, `\bolympic`,
		`\bgrand-?slam\b`,
	)},
	{domain.CategoryEconomics, compile(
		`\b(fed|fomc)\b`, `\brate-?(hike|cut)\b`, `\binflation\b`, `\bcpi\b`,
		`\bgdp\b`, `\brecession\b`, `\bunemployment\b`, `\b(treasury|tariff)\b`,
	)},
	{domain.CategoryEntertainment, compile(
		`\b(oscars?|grammys?|emmys?)\b`, `\bbox-?office\b`, `\b(movie|film|album)\b`,
		`\b(netflix|spotify)\b`, `\bcelebrity\b`, `\b(taylor-swift|kanye|drake)\b`,
	)},
	{domain.CategoryScience, compile(
		`\b(nasa|spacex)\b`, `\b(launch|orbit|mars|moon)\b`, `\b(ai|agi|openai)\b`,
		`\b(vaccine|fda-approv)`, `\b(climate|hurricane|earthquake)\b`, `\bnobel\b`,
	)},
	{domain.CategoryNews, compile(
		`\b(war|ceasefire|invasion)\b`, `\b(ukraine|russia|israel|gaza|iran)\b`,
		`\bresign`, `\bindicted?\b`, `\b(verdict|trial)\b`, `\bpandemic\b`,
	)},
}

// Classify categorizes one market from its slug and title. OTHER with zero
// confidence when nothing matches.
func Classify(slug, title string) domain.MarketClassification {
	text := slug + " " + title

	best := domain.MarketClassification{
		MarketSlug: slug,
		Category:   domain.CategoryOther,
	}
	bestMatches := 0
	for _, c := range categories {
		matched := []string{}
		for _, p := range c.patterns {
			if p.MatchString(text) {
				matched = append(matched, p.String())
			}
		}
		if len(matched) > bestMatches {
			bestMatches = len(matched)
			best.Category = c.category
			best.MatchedPatterns = matched
		}
	}

	if bestMatches > 0 {
		conf := float64(bestMatches) * confidencePerMatch
		if conf > 1 {
			conf = 1
		}
		best.Confidence = conf
	}
	return best
}

// Classifier persists classifications for every market seen in trades.
type Classifier struct {
	store store.Store
	log   zerolog.Logger
}

// New creates a market classifier.
func New(s store.Store, log zerolog.Logger) *Classifier {
	return &Classifier{
		store: s,
		log:   log.With().Str("component", "classifier").Logger(),
	}
}

// Run classifies market slugs present in trades that have no classification
// yet. Replace-on-insert keyed by market_slug keeps re-runs idempotent.
func (c *Classifier) Run(ctx context.Context) (int, error) {
	var rows []struct {
		MarketSlug string `ch:"market_slug"`
		Title      string `ch:"title"`
	}
	err := c.store.Select(ctx, &rows, `
		SELECT
			t.market_slug AS market_slug,
			any(coalesce(r.title, '')) AS title
		FROM trades AS t
		LEFT JOIN market_resolutions AS r FINAL ON r.market_slug = t.market_slug
		WHERE t.market_slug != ''
		  AND t.market_slug NOT IN (SELECT market_slug FROM market_classifications FINAL)
		GROUP BY t.market_slug`)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	classifications := make([]domain.MarketClassification, 0, len(rows))
	for _, r := range rows {
		classifications = append(classifications, Classify(r.MarketSlug, r.Title))
	}
	if err := c.store.InsertBatch(ctx, "market_classifications", classifications); err != nil {
		return 0, err
	}

	c.log.Info().Int("markets", len(classifications)).Msg("Classified new markets")
	return len(classifications), nil
}

// CategoryMix is one wallet's volume fraction in one category.
type CategoryMix struct {
	WalletID string                 `ch:"wallet_id"`
	Category domain.MarketCategory  `ch:"category"`
	Fraction float64                `ch:"fraction"`
}

// TraderCategoryProfiler computes per-wallet category volume mixes by joining
// trades with classifications.
type TraderCategoryProfiler struct {
	store store.Store
	log   zerolog.Logger
}

// NewProfiler creates a category profiler.
func NewProfiler(s store.Store, log zerolog.Logger) *TraderCategoryProfiler {
	return &TraderCategoryProfiler{
		store: s,
		log:   log.With().Str("component", "category-profiler").Logger(),
	}
}

// Mix returns, for every wallet, the fraction of its notional volume traded
// in each category. Unclassified markets count as OTHER.
func (p *TraderCategoryProfiler) Mix(ctx context.Context) (map[string]map[domain.MarketCategory]float64, error) {
	var rows []CategoryMix
	err := p.store.Select(ctx, &rows, `
		SELECT
			wallet_id,
			category,
			sum(notional) / max2(sum(sum(notional)) OVER (PARTITION BY wallet_id), 1e-9) AS fraction
		FROM (
			SELECT
				t.wallet_id AS wallet_id,
				t.notional AS notional,
				coalesce(nullIf(c.category, ''), 'OTHER') AS category
			FROM trades AS t
			LEFT JOIN market_classifications AS c FINAL ON c.market_slug = t.market_slug
		)
		GROUP BY wallet_id, category`)
	if err != nil {
		return nil, err
	}

	mix := map[string]map[domain.MarketCategory]float64{}
	for _, r := range rows {
		m, ok := mix[r.WalletID]
		if !ok {
			m = map[domain.MarketCategory]float64{}
			mix[r.WalletID] = m
		}
		m[r.Category] = r.Fraction
	}
	return mix, nil
}
