// Package models defines the records exchanged between the payment matcher
// components: raw notification messages, payment requests, extraction results,
// diagnostics and match attempts.
//
// Amounts are always shopspring decimals. Optional values are pointers and every
// consumer checks them explicitly; there are no untyped maps on the data path.
package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var currencyReplacer = strings.NewReplacer(
	"₦", "",
	"$", "",
	"NGN", "", "ngn", "", "Ngn", "",
	"NAIRA", "", "naira", "", "Naira", "",
	"USD", "", "usd", "",
	",", "",
	" ", "",
	" ", "",
)

// ParseAmount parses a money amount as it appears in bank notifications.
// Currency symbols and codes, thousands separators and a leading "N" shorthand
// for naira are removed; the result must be strictly positive.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	cleaned := currencyReplacer.Replace(raw)
	if len(cleaned) > 1 && (cleaned[0] == 'N' || cleaned[0] == 'n') && unicode.IsDigit(rune(cleaned[1])) {
		cleaned = cleaned[1:]
	}
	cleaned = strings.TrimSuffix(cleaned, ".")

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", raw, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got '%s'", raw)
	}
	return d, nil
}

// ParseOptionalAmount parses an amount hint; blank input yields nil
func ParseOptionalAmount(s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// NormalizeAccountNumber keeps only the digits of an account reference
func NormalizeAccountNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseTimeWithFormats attempts to parse time from string using the formats
// seen in mail headers, JSON ingest records and CSV imports
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02/01/2006 15:04:05",
		"02-Jan-2006 15:04",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// Preview returns at most n runes of s
func Preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
