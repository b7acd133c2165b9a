package classifier

import (
	"context"
	"testing"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		slug     string
		title    string
		want     domain.MarketCategory
		minConf  float64
	}{
		{"bitcoin updown", "btc-updown-15m-1700000000", "", domain.CategoryCrypto, 0.25},
		{"ethereum price", "will-eth-hit-5000", "Will Ethereum reach $5000?", domain.CategoryCrypto, 0.25},
		{"election", "us-president-2028", "Who wins the election?", domain.CategoryPolitics, 0.25},
		{"super bowl", "nfl-super-bowl-winner", "Super Bowl champion", domain.CategorySports, 0.25},
		{"fed decision", "fed-rate-cut-september", "Will the Fed cut rates?", domain.CategoryEconomics, 0.25},
		{"oscars", "best-picture-oscars-2027", "", domain.CategoryEntertainment, 0.25},
		{"space launch", "spacex-mars-launch", "", domain.CategoryScience, 0.25},
		{"conflict", "ukraine-ceasefire-2026", "", domain.CategoryNews, 0.25},
		{"unmatched", "some-random-market", "An unusual question", domain.CategoryOther, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.slug, tt.title)
			assert.Equal(t, tt.want, got.Category)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
			assert.LessOrEqual(t, got.Confidence, 1.0)
			if tt.want == domain.CategoryOther {
				assert.Empty(t, got.MatchedPatterns)
			} else {
				assert.NotEmpty(t, got.MatchedPatterns)
			}
		})
	}
}

func TestClassifyConfidenceCapsAtOne(t *testing.T) {
	got := Classify("btc-eth-sol-doge-crypto-defi", "bitcoin ethereum solana")
	assert.Equal(t, domain.CategoryCrypto, got.Category)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestRunPersistsClassifications(t *testing.T) {
	fake := storetest.New().On("NOT IN (SELECT market_slug FROM market_classifications", []struct {
		MarketSlug string `ch:"market_slug"`
		Title      string `ch:"title"`
	}{
		{"btc-updown-15m-1700000000", ""},
		{"us-president-2028", "Who wins?"},
	})

	c := New(fake, zerolog.Nop())
	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows := fake.InsertedInto("market_classifications")
	require.Len(t, rows, 2)
	assert.Equal(t, domain.CategoryCrypto, rows[0].(domain.MarketClassification).Category)
	assert.Equal(t, domain.CategoryPolitics, rows[1].(domain.MarketClassification).Category)
}
