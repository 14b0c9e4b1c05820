// Package parsers turns uploaded marketplace exports into normalized rows.
//
// It covers three concerns:
//   - the tabular codec (xlsx via excelize, csv via encoding/csv) that maps
//     file bytes to header-keyed rows and back
//   - the header resolver, a chain of exact, normalized and loose matchers
//     that finds a row's value for a user-configured column name
//   - the row normalizer, which coerces the values a record kind owns and
//     keeps unmapped columns as overflow
//
// Example usage:
//
//	table, err := parsers.ParseTable(data)
//	normalizer, err := parsers.NewNormalizer(models.KindPayment, headers, "settlement.xlsx")
//	for _, row := range table.Rows {
//		normalized, rejected := normalizer.Normalize(row)
//		...
//	}
package parsers

import (
	"sort"
	"strings"
)

// Matcher looks up the value for expected in row. It returns "" when the
// matcher finds no column or only empty ones.
type Matcher func(row map[string]string, expected string) string

// MatchExact looks up expected as a literal key
func MatchExact(row map[string]string, expected string) string {
	return strings.TrimSpace(row[expected])
}

// MatchNormalized compares keys case-insensitively after collapsing runs of
// whitespace and trimming both ends.
func MatchNormalized(row map[string]string, expected string) string {
	return matchBy(row, expected, normalizeHeader)
}

// MatchLoose compares keys after removing whitespace, underscores and hyphens
// and lower-casing, so "Order Id", "order_id" and "Order-ID" are equivalent.
func MatchLoose(row map[string]string, expected string) string {
	return matchBy(row, expected, looseHeader)
}

// matchBy scans keys in sorted order so a row with several equivalent
// columns resolves the same way on every run.
func matchBy(row map[string]string, expected string, fold func(string) string) string {
	target := fold(expected)
	if target == "" {
		return ""
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fold(k) != target {
			continue
		}
		if v := strings.TrimSpace(row[k]); v != "" {
			return v
		}
	}
	return ""
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func looseHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f', '_', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HeaderResolver resolves configured header text against a row using a chain
// of matchers; the first non-empty result wins.
type HeaderResolver struct {
	matchers []Matcher
}

// NewHeaderResolver creates a resolver running matchers in order
func NewHeaderResolver(matchers ...Matcher) *HeaderResolver {
	return &HeaderResolver{matchers: matchers}
}

// DefaultHeaderResolver runs exact, then normalized, then loose matching
func DefaultHeaderResolver() *HeaderResolver {
	return NewHeaderResolver(MatchExact, MatchNormalized, MatchLoose)
}

// Resolve returns the row's value for expected, or "" when the header is not
// configured or nothing matches. It never fails.
func (r *HeaderResolver) Resolve(row map[string]string, expected string) string {
	if expected == "" || len(row) == 0 {
		return ""
	}
	for _, match := range r.matchers {
		if v := match(row, expected); v != "" {
			return v
		}
	}
	return ""
}

// Claims reports whether column would be considered by any matcher for
// expected. Columns claimed by a configured header are never overflow.
func (r *HeaderResolver) Claims(column, expected string) bool {
	if expected == "" {
		return false
	}
	return column == expected || looseHeader(column) == looseHeader(expected)
}

var defaultResolver = DefaultHeaderResolver()

// Resolve resolves expected against row with the default matcher chain
func Resolve(row map[string]string, expected string) string {
	return defaultResolver.Resolve(row, expected)
}
