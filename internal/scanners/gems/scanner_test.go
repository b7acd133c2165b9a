package gems

import (
	"context"
	"testing"

	"github.com/psilabs/psi-engine/internal/domain"
	"github.com/psilabs/psi-engine/internal/store/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureUniverse() ([]domain.WalletScore, map[string]domain.WalletProfile, map[string]domain.WalletSharpe) {
	scores := []domain.WalletScore{
		{WalletID: "0xstar", TotalScore: 92, Rank: 1},    // visible, not hidden
		{WalletID: "0xgem", TotalScore: 78, Rank: 41},    // the gem
		{WalletID: "0xnoise", TotalScore: 55, Rank: 80},  // score too low
		{WalletID: "0xchoppy", TotalScore: 74, Rank: 52}, // sharpe too low
	}
	profiles := map[string]domain.WalletProfile{
		"0xstar":   {WalletID: "0xstar", TotalVolume: 900_000, DaysActive: 200},
		"0xgem":    {WalletID: "0xgem", TotalVolume: 22_000, DaysActive: 45},
		"0xnoise":  {WalletID: "0xnoise", TotalVolume: 8_000, DaysActive: 30},
		"0xchoppy": {WalletID: "0xchoppy", TotalVolume: 15_000, DaysActive: 60},
	}
	sharpes := map[string]domain.WalletSharpe{
		"0xstar":   {WalletID: "0xstar", SharpeCapped: 4.1},
		"0xgem":    {WalletID: "0xgem", SharpeCapped: 2.8},
		"0xnoise":  {WalletID: "0xnoise", SharpeCapped: 3.0},
		"0xchoppy": {WalletID: "0xchoppy", SharpeCapped: 0.9},
	}
	return scores, profiles, sharpes
}

func TestScanFindsUnderRankedWallet(t *testing.T) {
	fake := storetest.New()
	fake.On("FROM trader_pnl", []struct {
		WalletID string  `ch:"wallet_id"`
		WinRate  float64 `ch:"win_rate"`
	}{
		{WalletID: "0xgem", WinRate: 0.72},
	})

	s := New(fake, DefaultConfig(), zerolog.Nop())
	scores, profiles, sharpes := fixtureUniverse()

	alerts, err := s.Scan(context.Background(), scores, profiles, sharpes)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, domain.AlertHiddenGem, a.Type)
	assert.Equal(t, domain.SeverityLow, a.Severity)
	assert.Equal(t, "0xgem", a.WalletID)

	payload := a.Payload.(*domain.GemPayload)
	assert.InDelta(t, 78.0, payload.Score, 1e-9)
	assert.InDelta(t, 0.72, payload.WinRate, 1e-9)
	assert.Equal(t, 45, payload.DaysActive)
}

func TestScanDropsLowWinRate(t *testing.T) {
	fake := storetest.New()
	fake.On("FROM trader_pnl", []struct {
		WalletID string  `ch:"wallet_id"`
		WinRate  float64 `ch:"win_rate"`
	}{
		{WalletID: "0xgem", WinRate: 0.4},
	})

	s := New(fake, DefaultConfig(), zerolog.Nop())
	scores, profiles, sharpes := fixtureUniverse()

	alerts, err := s.Scan(context.Background(), scores, profiles, sharpes)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestScanNoCandidatesSkipsQuery(t *testing.T) {
	s := New(storetest.New(), DefaultConfig(), zerolog.Nop())

	alerts, err := s.Scan(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
