package matcher

import (
	"fmt"
	"sort"
	"strings"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/logger"
)

// ReasonNoCandidates is recorded when no pending request was in scope
const ReasonNoCandidates = "no pending request found"

// Engine scores candidates and picks the winning request
type Engine struct {
	config *Config
	logger logger.Logger
}

// Decision is the outcome of evaluating one extraction against its candidates
type Decision struct {
	// Winner is the matching candidate, nil when nothing matched
	Winner *models.CandidateScore

	// WinnerRequest is the request behind Winner
	WinnerRequest *models.PaymentRequest

	// Closest is the best non-matching candidate, used for attribution
	Closest *models.CandidateScore

	// ClosestRequest is the request behind Closest
	ClosestRequest *models.PaymentRequest

	// Reason explains the outcome in words
	Reason string

	// Scores holds the breakdown of every candidate in ranking order
	Scores []models.CandidateScore
}

// Matched reports whether a winner was found
func (d *Decision) Matched() bool {
	return d.Winner != nil
}

// Attributed returns the candidate the attempt should reference, if any
func (d *Decision) Attributed() (*models.CandidateScore, *models.PaymentRequest) {
	if d.Winner != nil {
		return d.Winner, d.WinnerRequest
	}
	return d.Closest, d.ClosestRequest
}

// NewEngine creates an engine; a nil config means DefaultConfig
func NewEngine(config *Config, log logger.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.WithComponent("matcher")
	}
	return &Engine{config: config, logger: log}
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

// Score computes the breakdown for one candidate
func (e *Engine) Score(info *models.ExtractedPaymentInfo, msg *models.RawMessage, req *models.PaymentRequest) models.CandidateScore {
	s := models.CandidateScore{
		RequestID:     req.ID,
		Reference:     req.Reference,
		RequestAmount: req.Amount,
		AmountDiff:    info.Amount.Sub(req.Amount),
		PayerName:     req.PayerName(),
		CreatedAt:     req.CreatedAt,
	}

	s.AmountWithinTolerance = WithinTolerance(s.AmountDiff)
	if !s.AmountWithinTolerance {
		s.Failures = append(s.Failures, fmt.Sprintf("amountDiff=%s exceeds tolerance %s", s.AmountDiff.StringFixed(2), AmountTolerance))
	}

	s.NameAccepted = true
	if info.Name() != "" && strings.TrimSpace(s.PayerName) != "" {
		pct := NameSimilarity(info.Name(), s.PayerName)
		s.NameSimilarityPercent = &pct
		if pct < e.config.NameSimilarityThreshold {
			s.NameAccepted = false
			s.Failures = append(s.Failures, fmt.Sprintf("nameSimilarity=%.2f below threshold %.2f", pct, e.config.NameSimilarityThreshold))
		}
	}

	elapsed := msg.ReceivedAt.Sub(req.CreatedAt)
	s.TimeDiffMinutes = round2(elapsed.Minutes())
	s.TimeAccepted = elapsed >= 0
	if !s.TimeAccepted {
		s.Failures = append(s.Failures, fmt.Sprintf("timeDiff=%.2fmin is negative, message received before the request was created", s.TimeDiffMinutes))
	} else if e.config.MaxTimeDiffMinutes > 0 && elapsed.Minutes() > e.config.MaxTimeDiffMinutes {
		s.TimeAccepted = false
		s.Failures = append(s.Failures, fmt.Sprintf("timeDiff=%.2fmin exceeds window %.0fmin", s.TimeDiffMinutes, e.config.MaxTimeDiffMinutes))
	}

	s.Expired = req.IsExpiredAt(msg.ReceivedAt)
	if s.Expired {
		s.Failures = append(s.Failures, fmt.Sprintf("request expired at %s", req.ExpiresAt.UTC().Format("2006-01-02 15:04:05")))
	}

	s.Matched = s.AmountWithinTolerance && s.NameAccepted && s.TimeAccepted && !s.Expired
	return s
}

// Evaluate scores every candidate and decides the outcome. It never fails:
// an empty candidate set and a set without any match are both ordinary
// unmatched decisions.
func (e *Engine) Evaluate(info *models.ExtractedPaymentInfo, msg *models.RawMessage, candidates []*models.PaymentRequest) *Decision {
	d := &Decision{}
	if len(candidates) == 0 {
		d.Reason = ReasonNoCandidates
		return d
	}

	type ranked struct {
		score models.CandidateScore
		req   *models.PaymentRequest
	}
	all := make([]ranked, 0, len(candidates))
	for _, req := range candidates {
		all = append(all, ranked{score: e.Score(info, msg, req), req: req})
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].score, all[j].score
		if a.Matched != b.Matched {
			return a.Matched
		}
		return closer(a, b)
	})

	d.Scores = make([]models.CandidateScore, len(all))
	for i := range all {
		d.Scores[i] = all[i].score
	}

	if d.Scores[0].Matched {
		d.Winner = &d.Scores[0]
		d.WinnerRequest = all[0].req
		d.Reason = matchedReason(d.Winner)
	} else {
		d.Closest = &d.Scores[0]
		d.ClosestRequest = all[0].req
		d.Reason = unmatchedReason(d.Closest, len(all))
	}

	e.logger.WithMessage(msg.ID).WithFields(logger.Fields{
		"candidates": len(all),
		"matched":    d.Matched(),
	}).Debug(d.Reason)

	return d
}

// closer orders candidates by absolute amount difference, then absolute time
// difference, then creation time and finally ID
func closer(a, b models.CandidateScore) bool {
	da, db := a.AmountDiff.Abs(), b.AmountDiff.Abs()
	if !da.Equal(db) {
		return da.LessThan(db)
	}
	ta, tb := absFloat(a.TimeDiffMinutes), absFloat(b.TimeDiffMinutes)
	if ta != tb {
		return ta < tb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.RequestID < b.RequestID
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func matchedReason(s *models.CandidateScore) string {
	return fmt.Sprintf("matched request %s (ref %s): amountDiff=%s, nameSimilarity=%s, timeDiff=%.2fmin",
		s.RequestID, s.Reference, s.AmountDiff.StringFixed(2), formatSimilarity(s.NameSimilarityPercent), s.TimeDiffMinutes)
}

func unmatchedReason(s *models.CandidateScore, total int) string {
	return fmt.Sprintf("no match among %d pending request(s); closest %s (ref %s): %s",
		total, s.RequestID, s.Reference, strings.Join(s.Failures, "; "))
}

func formatSimilarity(pct *float64) string {
	if pct == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *pct)
}

