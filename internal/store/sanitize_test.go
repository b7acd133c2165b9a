package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain string unchanged",
			input:    "will-trump-win-2028",
			expected: "will-trump-win-2028",
		},
		{
			name:     "single quotes doubled",
			input:    "o'brien's wallet",
			expected: "o''brien''s wallet",
		},
		{
			name:     "backslash escaped",
			input:    `a\b`,
			expected: `a\\b`,
		},
		{
			name:     "control characters stripped",
			input:    "abc\x00\x1bdef\n",
			expected: "abcdef",
		},
		{
			name:     "injection attempt neutralized",
			input:    "'; DROP TABLE trades; --",
			expected: "''; DROP TABLE trades; --",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteString(tt.input))
		})
	}
}

func TestQuoteStringCapsLength(t *testing.T) {
	long := strings.Repeat("x", 5000)
	out := QuoteString(long)
	assert.LessOrEqual(t, len(out), maxStringLen+1)
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"slug passes through", "btc-updown-15m-1700000000", "btc-updown-15m-1700000000"},
		{"condition id passes", "0x1a2B.3c_4d", "0x1a2B.3c_4d"},
		{"quotes and spaces dropped", "abc' OR 1=1", "abcOR11"},
		{"unicode dropped", "sluĝ-ürl", "slu-rl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeIdentifier(tt.input))
		})
	}
}

func TestClampDays(t *testing.T) {
	assert.Equal(t, 1, ClampDays(0))
	assert.Equal(t, 1, ClampDays(-10))
	assert.Equal(t, 30, ClampDays(30))
	assert.Equal(t, 365, ClampDays(365))
	assert.Equal(t, 365, ClampDays(10000))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 0, ClampLimit(-1))
	assert.Equal(t, 500, ClampLimit(500))
	assert.Equal(t, 10000, ClampLimit(99999))
}

func TestNotLikeAll(t *testing.T) {
	assert.Equal(t, "1", NotLikeAll("market_slug", nil))

	got := NotLikeAll("market_slug", []string{"%updown-15m%", "%updown-1h%"})
	assert.Equal(t, "(market_slug NOT LIKE '%updown-15m%' AND market_slug NOT LIKE '%updown-1h%')", got)
}

func TestNotLikeAllQuotesPatterns(t *testing.T) {
	got := NotLikeAll("slug", []string{"%it's%"})
	assert.Contains(t, got, "NOT LIKE '%it''s%'")
}
