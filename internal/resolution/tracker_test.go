package resolution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexFloatsAcceptsAllEncodings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []float64
	}{
		{"native array", `[0.99, 0.01]`, []float64{0.99, 0.01}},
		{"string array", `["0.99", "0.01"]`, []float64{0.99, 0.01}},
		{"json-encoded string", `"[\"0.995\", \"0.005\"]"`, []float64{0.995, 0.005}},
		{"mixed elements", `[0.5, "0.5"]`, []float64{0.5, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexFloats
			require.NoError(t, json.Unmarshal([]byte(tt.input), &f))
			assert.Equal(t, tt.expected, []float64(f))
		})
	}
}

func TestFlexFloatsRejectsGarbage(t *testing.T) {
	var f FlexFloats
	assert.Error(t, json.Unmarshal([]byte(`"not json"`), &f))
	assert.Error(t, json.Unmarshal([]byte(`[true]`), &f))
}

func TestFlexStrings(t *testing.T) {
	var s FlexStrings
	require.NoError(t, json.Unmarshal([]byte(`["Yes","No"]`), &s))
	assert.Equal(t, []string{"Yes", "No"}, []string(s))

	require.NoError(t, json.Unmarshal([]byte(`"[\"Yes\", \"No\"]"`), &s))
	assert.Equal(t, []string{"Yes", "No"}, []string(s))
}

func TestWinner(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		wantIdx  int
		resolved bool
	}{
		{"yes wins", []float64{0.99, 0.01}, 0, true},
		{"no wins", []float64{0.003, 0.997}, 1, true},
		{"unresolved midpoint", []float64{0.55, 0.45}, 0, false},
		{"two winners is invalid", []float64{0.99, 0.995}, 0, false},
		{"empty", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := Winner(tt.prices)
			assert.Equal(t, tt.resolved, ok)
			if tt.resolved {
				assert.Equal(t, tt.wantIdx, idx)
			}
		})
	}
}

type fakeLister struct {
	pages map[int][]Market // offset -> page
	calls int
}

func (f *fakeLister) ClosedMarkets(_ context.Context, _ int, offset int) ([]Market, error) {
	f.calls++
	return f.pages[offset], nil
}

func TestTrackerRunPersistsResolvedMarkets(t *testing.T) {
	fake := storetest.New().On("SELECT DISTINCT condition_id", []struct {
		ConditionID string `ch:"condition_id"`
	}{{"0xaaa"}, {"0xbbb"}})

	lister := &fakeLister{pages: map[int][]Market{
		0: {
			{ConditionID: "0xaaa", Slug: "who-wins", Question: "Who wins?", Closed: true,
				OutcomePrices: FlexFloats{0.99, 0.01}, Outcomes: FlexStrings{"Yes", "No"}},
			{ConditionID: "0xccc", Slug: "not-tracked", Closed: true,
				OutcomePrices: FlexFloats{1.0, 0.0}},
			{ConditionID: "0xbbb", Slug: "still-open", Closed: true,
				OutcomePrices: FlexFloats{0.6, 0.4}},
		},
	}}

	tracker := NewTracker(fake, lister, zerolog.Nop())
	n, err := tracker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows := fake.InsertedInto("market_resolutions")
	require.Len(t, rows, 1)
	res := rows[0].(domain.MarketResolution)
	assert.Equal(t, "0xaaa", res.ConditionID)
	assert.True(t, res.IsResolved)
	assert.Equal(t, int32(0), res.WinningOutcomeIndex)
	assert.Equal(t, "Yes", res.WinningOutcomeLabel)
}

func TestTrackerRunNoPendingSkipsAPI(t *testing.T) {
	fake := storetest.New() // empty pending set
	lister := &fakeLister{}

	tracker := NewTracker(fake, lister, zerolog.Nop())
	n, err := tracker.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, lister.calls)
	assert.Empty(t, fake.Inserts)
}

func TestTrackerStopsOnEmptyPage(t *testing.T) {
	fake := storetest.New().On("SELECT DISTINCT condition_id", []struct {
		ConditionID string `ch:"condition_id"`
	}{{"0xaaa"}})

	lister := &fakeLister{pages: map[int][]Market{}} // every page empty
	tracker := NewTracker(fake, lister, zerolog.Nop())

	n, err := tracker.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, lister.calls)
}
