// Package matcher selects the pending payment requests a notification could
// settle and decides which one, if any, it does settle.
//
// The engine scores every candidate instead of pre-filtering, so a near miss
// still shows up in the audit trail with the numbers that ruled it out. Each
// candidate gets:
//   - AmountDiff: extracted minus requested amount, signed
//   - NameSimilarityPercent: 0 to 100, only when both names are known
//   - TimeDiffMinutes: message receipt minus request creation
//
// A candidate matches when the amount is within AmountTolerance, the name is
// unknown or at least as similar as the configured threshold, the message
// arrived after the request was created and the request had not expired.
// Among matching candidates the smallest absolute amount difference wins, then
// the smallest time difference, then the earliest created request.
//
// Example usage:
//
//	config := matcher.DefaultConfig()
//	config.NameSimilarityThreshold = 70
//
//	engine := matcher.NewEngine(config, logger.WithComponent("matcher"))
//	candidates, err := matcher.NewSelector(store).SelectCandidates(ctx, info, msg)
//	decision := engine.Evaluate(info, msg, candidates)
package matcher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// AmountTolerance is the largest absolute difference between the extracted and
// the requested amount that still counts as a match. Transfers are expected to
// carry the exact requested amount.
const AmountTolerance = "0.00"

var amountTolerance = decimal.RequireFromString(AmountTolerance)

// DefaultNameSimilarityThreshold is the minimum similarity percentage for a
// candidate whose payer name is known
const DefaultNameSimilarityThreshold = 65.0

// DefaultDuplicateWindow is how far back an approved payment with the same
// amount and payer is reported as a possible duplicate
const DefaultDuplicateWindow = time.Hour

// Config holds the tunable parts of candidate scoring. The amount tolerance is
// deliberately not part of it.
type Config struct {
	// NameSimilarityThreshold is the minimum name similarity percentage (0 to 100)
	NameSimilarityThreshold float64 `json:"name_similarity_threshold" mapstructure:"name_similarity_threshold"`

	// MaxTimeDiffMinutes rejects candidates created longer ago than this; 0 disables the check
	MaxTimeDiffMinutes float64 `json:"max_time_diff_minutes" mapstructure:"max_time_diff_minutes"`

	// DuplicateWindow bounds the look-back of the duplicate payment warning; 0 disables it
	DuplicateWindow time.Duration `json:"duplicate_window" mapstructure:"duplicate_window"`
}

// DefaultConfig returns the configuration used in production
func DefaultConfig() *Config {
	return &Config{
		NameSimilarityThreshold: DefaultNameSimilarityThreshold,
		MaxTimeDiffMinutes:      0,
		DuplicateWindow:         DefaultDuplicateWindow,
	}
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var err error
	if c.NameSimilarityThreshold < 0 || c.NameSimilarityThreshold > 100 {
		err = multierr.Append(err, fmt.Errorf("name similarity threshold must be between 0 and 100: %.2f", c.NameSimilarityThreshold))
	}
	if c.MaxTimeDiffMinutes < 0 {
		err = multierr.Append(err, fmt.Errorf("max time diff minutes cannot be negative: %.2f", c.MaxTimeDiffMinutes))
	}
	if c.DuplicateWindow < 0 {
		err = multierr.Append(err, fmt.Errorf("duplicate window cannot be negative: %s", c.DuplicateWindow))
	}
	return err
}

// WithinTolerance reports whether a signed amount difference is acceptable
func WithinTolerance(diff decimal.Decimal) bool {
	return diff.Abs().LessThanOrEqual(amountTolerance)
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	window := "disabled"
	if c.MaxTimeDiffMinutes > 0 {
		window = fmt.Sprintf("%.0fmin", c.MaxTimeDiffMinutes)
	}
	return fmt.Sprintf("Config{AmountTolerance: %s, NameThreshold: %.2f%%, TimeWindow: %s, DuplicateWindow: %s}",
		AmountTolerance, c.NameSimilarityThreshold, window, c.DuplicateWindow)
}
