package sharpe

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/psilabs/psi-engine/internal/store/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAnnualizes(t *testing.T) {
	daily := []float64{10, 20, 30} // mean 20, pop std ~8.165
	s, ok := Compute("0xa", daily, DefaultMinDays)
	require.True(t, ok)

	mean := 20.0
	std := math.Sqrt(200.0 / 3.0)
	want := mean / std * math.Sqrt(365)
	assert.InDelta(t, want, s.SharpeRatio, 1e-9)
	assert.Equal(t, 3, s.DaysWithPnL)
	assert.InDelta(t, 0.1, s.Confidence, 1e-9) // 3/30
}

func TestComputeCapsAtTen(t *testing.T) {
	// Tiny variance, big mean: raw Sharpe explodes, capped stays at 10.
	daily := []float64{100, 100.001, 99.999}
	s, ok := Compute("0xa", daily, DefaultMinDays)
	require.True(t, ok)
	assert.Greater(t, s.SharpeRatio, 10.0)
	assert.Equal(t, 10.0, s.SharpeCapped)
}

func TestComputeZeroStdIsZeroSharpe(t *testing.T) {
	daily := []float64{50, 50, 50}
	s, ok := Compute("0xa", daily, DefaultMinDays)
	require.True(t, ok)
	assert.Zero(t, s.SharpeRatio)
	assert.Zero(t, s.SharpeCapped)
}

func TestComputeBelowFloorExcluded(t *testing.T) {
	_, ok := Compute("0xa", []float64{10, 20}, DefaultMinDays)
	assert.False(t, ok)
}

func TestComputeConfidenceSaturates(t *testing.T) {
	daily := make([]float64, 45)
	for i := range daily {
		daily[i] = float64(i%7) - 2
	}
	s, ok := Compute("0xa", daily, DefaultMinDays)
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Confidence)
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name  string
		daily []float64
		want  float64
	}{
		{"monotone up", []float64{10, 10, 10}, 0},
		{"single dip", []float64{10, -15, 20}, 15},
		{"deep trough", []float64{100, -60, -60, 30}, 120},
		{"starts negative", []float64{-10, -5, 20}, 15},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MaxDrawdown(tt.daily), 1e-9)
		})
	}
}

func TestRunGroupsByWallet(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC) }
	fake := storetest.New().On("GROUP BY wallet_id, day", []dailyRow{
		{WalletID: "0xa", Day: day(1), PnL: 10},
		{WalletID: "0xa", Day: day(2), PnL: 20},
		{WalletID: "0xa", Day: day(3), PnL: 30},
		{WalletID: "0xb", Day: day(1), PnL: 5}, // below floor
	})

	calc := NewCalculator(fake, zerolog.Nop())
	out, err := calc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0xa", out[0].WalletID)
	assert.Equal(t, 3, out[0].DaysWithPnL)
}
