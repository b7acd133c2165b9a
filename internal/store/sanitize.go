package store

import (
	"strings"
	"unicode"
)

// Maximum lengths for interpolated fragments. Anything longer is truncated,
// not rejected: queries still run, they just cannot be blown up.
const (
	maxStringLen     = 256
	maxIdentifierLen = 128
)

// QuoteString prepares an arbitrary string for interpolation inside single
// quotes in a SQL template: control characters are stripped, single quotes
// and backslashes doubled, and length capped.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		switch r {
		case '\'':
			b.WriteString("''")
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
		if b.Len() >= maxStringLen {
			break
		}
	}
	return b.String()
}

// SanitizeIdentifier restricts market identifiers (slugs, condition ids) to
// the characters they legitimately contain. Everything else is dropped.
func SanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= maxIdentifierLen {
			break
		}
	}
	return b.String()
}

// ClampDays bounds a lookback in days to [1, 365].
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > 365 {
		return 365
	}
	return days
}

// ClampLimit bounds a row limit to [0, 10000].
func ClampLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// NotLikeAll builds a conjunction of NOT LIKE clauses for the given column and
// glob-style patterns (each pattern is quoted). Returns "1" when the pattern
// list is empty so the fragment can always be AND-ed into a WHERE clause.
func NotLikeAll(column string, patterns []string) string {
	if len(patterns) == 0 {
		return "1"
	}
	clauses := make([]string, 0, len(patterns))
	for _, p := range patterns {
		clauses = append(clauses, column+" NOT LIKE '"+QuoteString(p)+"'")
	}
	return "(" + strings.Join(clauses, " AND ") + ")"
}
