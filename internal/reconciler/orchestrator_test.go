package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/extractor"
	"golang-payment-matcher/internal/matcher"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/store"
	"golang-payment-matcher/internal/templates"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.OutboxEvent
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, event *models.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *recordingPublisher) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

type harness struct {
	orch      *Orchestrator
	store     *store.Store
	publisher *recordingPublisher
	clock     time.Time
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	st, err := store.Open(context.Background(), &store.Config{
		Path:        filepath.Join(t.TempDir(), "paymatch.db"),
		BusyTimeout: 5 * time.Second,
	}, logger.Discard())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg, err := templates.Default()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	config := DefaultConfig()
	for _, m := range mutate {
		m(config)
	}

	h := &harness{store: st, publisher: &recordingPublisher{}, clock: t0.Add(time.Hour)}
	h.orch, err = New(st, extractor.New(reg, logger.Discard()), matcher.NewEngine(nil, logger.Discard()), config,
		WithPublisher(h.publisher),
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return h.clock }),
	)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return h
}

func (h *harness) createRequest(t *testing.T, id, amount string, created time.Time, payer string) *models.PaymentRequest {
	t.Helper()
	req := &models.PaymentRequest{
		ID:         id,
		Reference:  "REF-" + id,
		MerchantID: "merchant-1",
		Amount:     decimal.RequireFromString(amount),
		Status:     models.StatusPending,
		CreatedAt:  created,
	}
	if payer != "" {
		req.PayerNameHint = &payer
	}
	if err := h.store.Requests.Create(context.Background(), req); err != nil {
		t.Fatalf("failed to create request %s: %v", id, err)
	}
	return req
}

func (h *harness) request(t *testing.T, id string) *models.PaymentRequest {
	t.Helper()
	req, err := h.store.Requests.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load request %s: %v", id, err)
	}
	return req
}

func (h *harness) attempts(t *testing.T, f store.AttemptFilter) []*models.MatchAttempt {
	t.Helper()
	attempts, err := h.store.Attempts.Query(context.Background(), f)
	if err != nil {
		t.Fatalf("failed to query attempts: %v", err)
	}
	return attempts
}

func (h *harness) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := h.store.Balances.Get(context.Background(), "merchant-1")
	if err != nil {
		t.Fatalf("failed to load balance: %v", err)
	}
	return b.Available
}

func creditAlert(amount, payer string) string {
	return fmt.Sprintf("Credit Alert\nAmount: NGN %s\nRemarks: %s/INV22\n", amount, payer)
}

func input(body string, received time.Time) IngestInput {
	return IngestInput{
		Channel:       "payments@merchant.test",
		Source:        models.SourceWebhook,
		MerchantID:    "merchant-1",
		SenderAddress: "alerts@unknown.test",
		Subject:       "Credit Alert",
		TextBody:      body,
		ReceivedAt:    received,
	}
}

func mustIngest(t *testing.T, h *harness, in IngestInput) *Outcome {
	t.Helper()
	outcome, err := h.orch.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	return outcome
}

func TestNew(t *testing.T) {
	h := newHarness(t)
	reg, _ := templates.Default()
	ex := extractor.New(reg, logger.Discard())

	if _, err := New(nil, ex, nil, nil); err == nil {
		t.Error("expected error without a store")
	}
	if _, err := New(h.store, nil, nil, nil); err == nil {
		t.Error("expected error without an extractor")
	}
	if _, err := New(h.store, ex, nil, &Config{BatchConcurrency: 0, OutboxBatchSize: 1}); !errors.HasCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected invalid config error, got %v", err)
	}

	orch, err := New(h.store, ex, nil, nil)
	if err != nil {
		t.Fatalf("expected defaults to be accepted, got %v", err)
	}
	if orch.Config().StatusCheckLookback != 5*time.Minute {
		t.Errorf("expected default lookback, got %s", orch.Config().StatusCheckLookback)
	}
}

func TestIngestExactMatch(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

	outcome := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(3*time.Minute)))

	if !outcome.Matched {
		t.Fatalf("expected match, got %s", outcome)
	}
	if outcome.PaymentRequestID != "req-1" || outcome.TransactionReference != "REF-req-1" {
		t.Errorf("expected req-1/REF-req-1, got %s/%s", outcome.PaymentRequestID, outcome.TransactionReference)
	}
	if outcome.RequestStatus != models.StatusApproved {
		t.Errorf("expected approved, got %s", outcome.RequestStatus)
	}
	if outcome.Method != models.MethodRenderedText {
		t.Errorf("expected rendered text extraction, got %s", outcome.Method)
	}

	attempts := h.attempts(t, store.AttemptFilter{MessageID: outcome.MessageID})
	if len(attempts) != 1 {
		t.Fatalf("expected one attempt, got %d", len(attempts))
	}
	a := attempts[0]
	if a.Result != models.ResultMatched || a.Trigger != models.TriggerIngest {
		t.Errorf("expected matched ingest attempt, got %s/%s", a.Result, a.Trigger)
	}
	if a.AmountDiff == nil || !a.AmountDiff.IsZero() {
		t.Errorf("expected amountDiff=0, got %v", a.AmountDiff)
	}
	if a.NameSimilarityPercent == nil || *a.NameSimilarityPercent != 100 {
		t.Errorf("expected nameSimilarity=100, got %v", a.NameSimilarityPercent)
	}
	if a.TimeDiffMinutes == nil || *a.TimeDiffMinutes != 3 {
		t.Errorf("expected timeDiff=3, got %v", a.TimeDiffMinutes)
	}
	if a.EmailFrom != "alerts@unknown.test" || a.EmailSubject != "Credit Alert" {
		t.Errorf("expected email fields on the attempt, got %q/%q", a.EmailFrom, a.EmailSubject)
	}

	req := h.request(t, "req-1")
	if req.MatchedAt == nil || req.ApprovedAt == nil || req.MatchedMessageID != outcome.MessageID {
		t.Errorf("expected matched and approved timestamps, got %+v", req)
	}
	if !h.balance(t).Equal(decimal.RequireFromString("5000")) {
		t.Errorf("expected balance 5000, got %s", h.balance(t))
	}
	if h.publisher.count() != 1 {
		t.Errorf("expected one published event, got %d", h.publisher.count())
	}

	stored, err := h.store.Messages.Get(context.Background(), outcome.MessageID)
	if err != nil {
		t.Fatalf("failed to load message: %v", err)
	}
	if !stored.State.Matched || stored.State.MatchedRequestID != "req-1" || stored.State.MatchAttemptsCount != 1 {
		t.Errorf("expected message state to record the match, got %+v", stored.State)
	}
}

func TestIngestUnmatched(t *testing.T) {
	tests := []struct {
		name       string
		requests   func(t *testing.T, h *harness)
		body       string
		received   time.Time
		wantReason string
		wantScored bool
	}{
		{
			name:       "amount off by 50 kobo",
			requests:   func(t *testing.T, h *harness) { h.createRequest(t, "req-1", "5000.00", t0, "John Doe") },
			body:       creditAlert("5,000.50", "John Doe"),
			received:   t0.Add(3 * time.Minute),
			wantReason: "amountDiff=0.50",
			wantScored: true,
		},
		{
			name:       "message before request",
			requests:   func(t *testing.T, h *harness) { h.createRequest(t, "req-1", "5000.00", t0, "John Doe") },
			body:       creditAlert("5,000.00", "John Doe"),
			received:   t0.Add(-2 * time.Minute),
			wantReason: "timeDiff=-2.00min",
			wantScored: true,
		},
		{
			name:       "different payer",
			requests:   func(t *testing.T, h *harness) { h.createRequest(t, "req-1", "5000.00", t0, "John Doe") },
			body:       creditAlert("5,000.00", "Chidi Okafor"),
			received:   t0.Add(3 * time.Minute),
			wantReason: "nameSimilarity=",
			wantScored: true,
		},
		{
			name:       "no pending requests",
			requests:   func(t *testing.T, h *harness) {},
			body:       creditAlert("5,000.00", "John Doe"),
			received:   t0.Add(3 * time.Minute),
			wantReason: matcher.ReasonNoCandidates,
		},
		{
			name:       "no amount",
			requests:   func(t *testing.T, h *harness) { h.createRequest(t, "req-1", "5000.00", t0, "John Doe") },
			body:       "See you at lunch tomorrow",
			received:   t0.Add(3 * time.Minute),
			wantReason: ReasonNoAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.requests(t, h)

			outcome := mustIngest(t, h, input(tt.body, tt.received))
			if outcome.Matched {
				t.Fatalf("expected no match, got %s", outcome)
			}
			if !strings.Contains(outcome.Reason, tt.wantReason) {
				t.Errorf("expected reason containing %q, got %q", tt.wantReason, outcome.Reason)
			}

			attempts := h.attempts(t, store.AttemptFilter{MessageID: outcome.MessageID})
			if len(attempts) != 1 {
				t.Fatalf("expected one attempt, got %d", len(attempts))
			}
			a := attempts[0]
			if a.Result != models.ResultUnmatched {
				t.Errorf("expected unmatched attempt, got %s", a.Result)
			}
			if tt.wantScored && (a.PaymentRequestID == nil || *a.PaymentRequestID != "req-1") {
				t.Errorf("expected the closest request on the attempt, got %v", a.PaymentRequestID)
			}
			if !tt.wantScored && a.PaymentRequestID != nil {
				t.Errorf("expected no request on the attempt, got %s", *a.PaymentRequestID)
			}
			if a.Diagnostics == nil || len(a.Diagnostics.Steps) == 0 {
				t.Error("expected diagnostics on the attempt")
			}

			if req, err := h.store.Requests.Get(context.Background(), "req-1"); err == nil && req.Status != models.StatusPending {
				t.Errorf("expected request to stay pending, got %s", req.Status)
			}
			if !h.balance(t).IsZero() {
				t.Errorf("expected no credit, got %s", h.balance(t))
			}
		})
	}
}

func TestIngestMalformed(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-1", "5000.00", t0, "")

	in := input("", t0.Add(time.Minute))
	in.HTMLBody = "   "
	outcome := mustIngest(t, h, in)

	if !outcome.Malformed || outcome.Matched {
		t.Fatalf("expected malformed outcome, got %s", outcome)
	}
	attempts := h.attempts(t, store.AttemptFilter{MessageID: outcome.MessageID})
	if len(attempts) != 1 {
		t.Fatalf("expected one attempt, got %d", len(attempts))
	}
	a := attempts[0]
	if a.ExtractionMethod != nil {
		t.Errorf("expected no extraction method, got %s", *a.ExtractionMethod)
	}
	if a.Diagnostics == nil || len(a.Diagnostics.Steps) != len(models.ExtractionMethods) {
		t.Fatalf("expected one diagnostic step per strategy, got %+v", a.Diagnostics)
	}
	for _, step := range a.Diagnostics.Steps {
		if step.Status != models.StepFailed {
			t.Errorf("expected %s to fail, got %s", step.Method, step.Status)
		}
	}
}

func TestIngestTieBreak(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-high", "5000.01", t0, "")
	h.createRequest(t, "req-exact", "5000.00", t0.Add(time.Minute), "")

	outcome := mustIngest(t, h, input("Payment of 5,000.00 received", t0.Add(5*time.Minute)))
	if !outcome.Matched || outcome.PaymentRequestID != "req-exact" {
		t.Fatalf("expected req-exact to win, got %s", outcome)
	}
	if h.request(t, "req-high").Status != models.StatusPending {
		t.Error("expected the other request to stay pending")
	}
}

func TestIngestDuplicate(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")
	in := input(creditAlert("5,000.00", "John Doe"), t0.Add(3*time.Minute))

	first := mustIngest(t, h, in)
	second := mustIngest(t, h, in)

	if !first.Matched {
		t.Fatalf("expected first ingest to match, got %s", first)
	}
	if !second.Duplicate || second.MessageID != first.MessageID || second.AttemptID != "" {
		t.Errorf("expected duplicate of %s without an attempt, got %+v", first.MessageID, second)
	}
	if n := len(h.attempts(t, store.AttemptFilter{})); n != 1 {
		t.Errorf("expected one attempt, got %d", n)
	}
}

func TestIngestConcurrentSameMessage(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")
	in := input(creditAlert("5,000.00", "John Doe"), t0.Add(3*time.Minute))

	const workers = 8
	outcomes := make([]*Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = h.orch.Ingest(context.Background(), in)
		}(i)
	}
	wg.Wait()

	processed := 0
	for i := range outcomes {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if !outcomes[i].Duplicate {
			processed++
		}
	}
	if processed != 1 {
		t.Errorf("expected exactly one processed copy, got %d", processed)
	}

	counts, err := h.store.Messages.Counts(context.Background())
	if err != nil {
		t.Fatalf("failed to count messages: %v", err)
	}
	if counts.Total != 1 {
		t.Errorf("expected one stored message, got %d", counts.Total)
	}
	if !h.balance(t).Equal(decimal.RequireFromString("5000")) {
		t.Errorf("expected a single credit, got %s", h.balance(t))
	}
}

func TestIngestConcurrentSameRequest(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-1", "5000.00", t0, "")

	const workers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	matched := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := input(fmt.Sprintf("Payment of 5,000.00 received, session %d", i), t0.Add(time.Duration(i+1)*time.Minute))
			outcome, err := h.orch.Ingest(context.Background(), in)
			if err != nil {
				t.Errorf("worker %d failed: %v", i, err)
				return
			}
			if outcome.Matched {
				mu.Lock()
				matched++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if matched != 1 {
		t.Errorf("expected exactly one message to settle the request, got %d", matched)
	}
	if !h.balance(t).Equal(decimal.RequireFromString("5000")) {
		t.Errorf("expected a single credit, got %s", h.balance(t))
	}
	if n := len(h.attempts(t, store.AttemptFilter{})); n != workers {
		t.Errorf("expected one attempt per message, got %d", n)
	}
}

func TestIngestAmountHint(t *testing.T) {
	t.Run("overrides extraction", func(t *testing.T) {
		h := newHarness(t)
		h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

		in := input(creditAlert("4,000.00", "John Doe"), t0.Add(time.Minute))
		in.AmountHint = "5000"
		outcome := mustIngest(t, h, in)

		if !outcome.Matched {
			t.Fatalf("expected hint to drive the match, got %s", outcome)
		}
		a := h.attempts(t, store.AttemptFilter{MessageID: outcome.MessageID})[0]
		if a.ExtractedAmount == nil || !a.ExtractedAmount.Equal(decimal.NewFromInt(5000)) {
			t.Errorf("expected extracted amount 5000, got %v", a.ExtractedAmount)
		}
		if !containsWarning(outcome.Warnings, "overrides extracted amount 4000.00") {
			t.Errorf("expected override warning, got %v", outcome.Warnings)
		}
	})

	t.Run("stands in for a failed extraction", func(t *testing.T) {
		h := newHarness(t)
		h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

		in := input("See you at lunch tomorrow", t0.Add(time.Minute))
		in.AmountHint = "NGN 5,000.00"
		outcome := mustIngest(t, h, in)

		if !outcome.Matched {
			t.Fatalf("expected hint to drive the match, got %s", outcome)
		}
		a := h.attempts(t, store.AttemptFilter{MessageID: outcome.MessageID})[0]
		if a.ExtractionMethod != nil {
			t.Errorf("expected no extraction method, got %s", *a.ExtractionMethod)
		}
	})

	t.Run("unparseable hint is ignored", func(t *testing.T) {
		h := newHarness(t)
		h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

		in := input(creditAlert("5,000.00", "John Doe"), t0.Add(time.Minute))
		in.AmountHint = "about five thousand"
		outcome := mustIngest(t, h, in)

		if !outcome.Matched {
			t.Fatalf("expected extracted amount to match, got %s", outcome)
		}
		if !containsWarning(outcome.Warnings, "ignored") {
			t.Errorf("expected ignored-hint warning, got %v", outcome.Warnings)
		}
	})
}

func TestIngestInvalidInput(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*IngestInput)
	}{
		{"missing channel", func(in *IngestInput) { in.Channel = " " }},
		{"missing receipt time", func(in *IngestInput) { in.ReceivedAt = time.Time{} }},
		{"unknown source", func(in *IngestInput) { in.Source = "carrier-pigeon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(creditAlert("1,000.00", "John Doe"), t0)
			tt.mutate(&in)
			if _, err := h.orch.Ingest(context.Background(), in); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestIngestDuplicatePaymentWarning(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")
	h.createRequest(t, "req-2", "5000.00", t0.Add(10*time.Minute), "John Doe")

	first := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(2*time.Minute)))
	if !first.Matched || first.PaymentRequestID != "req-1" {
		t.Fatalf("expected req-1 to match first, got %s", first)
	}

	second := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(12*time.Minute)))
	if !second.Matched || second.PaymentRequestID != "req-2" {
		t.Fatalf("expected req-2 to match, got %s", second)
	}
	if !containsWarning(second.Warnings, "possible duplicate of approved request req-1") {
		t.Errorf("expected duplicate payment warning, got %v", second.Warnings)
	}
}

func TestRetry(t *testing.T) {
	t.Run("unmatched message twice", func(t *testing.T) {
		h := newHarness(t)
		h.createRequest(t, "req-1", "5000.00", t0, "John Doe")
		ingested := mustIngest(t, h, input(creditAlert("4,000.00", "John Doe"), t0.Add(time.Minute)))

		for i := 0; i < 2; i++ {
			retry, err := h.orch.Retry(context.Background(), ingested.MessageID)
			if err != nil {
				t.Fatalf("retry %d failed: %v", i, err)
			}
			if retry.Matched || retry.Reason != ingested.Reason {
				t.Errorf("retry %d: expected the same unmatched outcome, got %s", i, &retry.Outcome)
			}
			if !retry.TextBodyUsed || retry.HTMLBodyUsed {
				t.Errorf("retry %d: expected only the text body, got text=%v html=%v", i, retry.TextBodyUsed, retry.HTMLBodyUsed)
			}
		}

		retries := h.attempts(t, store.AttemptFilter{MessageID: ingested.MessageID})
		if len(retries) != 3 {
			t.Fatalf("expected three attempts, got %d", len(retries))
		}
		seen := make(map[string]bool)
		for _, a := range retries {
			seen[a.ID] = true
		}
		if len(seen) != 3 {
			t.Error("expected every pass to write a new attempt")
		}
		if h.request(t, "req-1").Status != models.StatusPending {
			t.Error("expected request to stay pending")
		}

		stored, _ := h.store.Messages.Get(context.Background(), ingested.MessageID)
		if stored.State.MatchAttemptsCount != 3 {
			t.Errorf("expected three counted passes, got %d", stored.State.MatchAttemptsCount)
		}
	})

	t.Run("matches once the request exists", func(t *testing.T) {
		h := newHarness(t)
		ingested := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(time.Minute)))
		h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

		retry, err := h.orch.Retry(context.Background(), ingested.MessageID)
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if !retry.Matched || retry.PaymentRequestID != "req-1" {
			t.Fatalf("expected retry to match req-1, got %s", &retry.Outcome)
		}
		a := h.attempts(t, store.AttemptFilter{Result: models.ResultMatched})
		if len(a) != 1 || a[0].Trigger != models.TriggerRetry {
			t.Errorf("expected one matched retry attempt, got %d", len(a))
		}
	})

	t.Run("already approved", func(t *testing.T) {
		h := newHarness(t)
		h.createRequest(t, "req-1", "5000.00", t0, "John Doe")
		ingested := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(time.Minute)))

		for i := 0; i < 2; i++ {
			retry, err := h.orch.Retry(context.Background(), ingested.MessageID)
			if err != nil {
				t.Fatalf("retry failed: %v", err)
			}
			if !retry.AlreadyMatched || retry.Reason != ReasonAlreadyMatched || retry.PaymentRequestID != "req-1" {
				t.Errorf("expected already matched, got %+v", retry)
			}
		}
		if n := len(h.attempts(t, store.AttemptFilter{})); n != 1 {
			t.Errorf("expected no new attempts, got %d", n)
		}
		if !h.balance(t).Equal(decimal.RequireFromString("5000")) {
			t.Errorf("expected a single credit, got %s", h.balance(t))
		}
		if h.publisher.count() != 1 {
			t.Errorf("expected a single event, got %d", h.publisher.count())
		}
	})

	t.Run("unknown message", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.orch.Retry(context.Background(), "missing"); !errors.HasCode(err, errors.CodeNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestCheckRequest(t *testing.T) {
	h := newHarness(t)

	early := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(-30*time.Minute)))
	late := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(3*time.Minute)))
	other := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(4*time.Minute)))
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

	result, err := h.orch.CheckRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.Matched() || result.Request.Status != models.StatusApproved {
		t.Fatalf("expected request to be settled, got %+v", result)
	}
	if result.Request.MatchedMessageID != late.MessageID {
		t.Errorf("expected the first message in scope to settle it, got %s", result.Request.MatchedMessageID)
	}
	if result.Scanned != 1 {
		t.Errorf("expected the scan to stop after the match, scanned %d", result.Scanned)
	}

	for _, id := range []string{early.MessageID, other.MessageID} {
		if n := len(h.attempts(t, store.AttemptFilter{MessageID: id})); n != 1 {
			t.Errorf("expected message %s to be left alone, got %d attempts", id, n)
		}
	}
	a := h.attempts(t, store.AttemptFilter{MessageID: late.MessageID, Result: models.ResultMatched})
	if len(a) != 1 || a[0].Trigger != models.TriggerStatusCheck {
		t.Error("expected a matched status check attempt")
	}

	again, err := h.orch.CheckRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("second check failed: %v", err)
	}
	if again.Scanned != 0 || again.Reason != "request is approved" {
		t.Errorf("expected no scan on a settled request, got %+v", again)
	}
}

func TestApproveAndReject(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoApprove = false })
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

	outcome := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(time.Minute)))
	if !outcome.Matched || outcome.RequestStatus != models.StatusMatched {
		t.Fatalf("expected a matched request awaiting approval, got %s", outcome)
	}
	if !h.balance(t).IsZero() || h.publisher.count() != 0 {
		t.Fatal("expected no credit or event before approval")
	}

	if _, err := h.orch.Reject(context.Background(), "req-1", " "); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("expected a reason to be required, got %v", err)
	}
	rejected, err := h.orch.Reject(context.Background(), "req-1", "wrong customer")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Status != models.StatusRejected || rejected.RejectionReason != "wrong customer" {
		t.Errorf("expected rejected request, got %+v", rejected)
	}

	h.createRequest(t, "req-2", "5000.00", t0, "John Doe")
	retry, err := h.orch.Retry(context.Background(), outcome.MessageID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !retry.AlreadyMatched || retry.PaymentRequestID != "req-1" {
		t.Errorf("expected the message to stay with rejected req-1, got %s", &retry.Outcome)
	}
	check, err := h.orch.CheckRequest(context.Background(), "req-2")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if check.Matched() || check.Scanned != 0 {
		t.Errorf("expected no message available for req-2, got %+v", check)
	}
	if req := h.request(t, "req-2"); req.Status != models.StatusPending {
		t.Fatalf("expected req-2 to stay pending, got %s", req.Status)
	}

	second := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(5*time.Minute)))
	if !second.Matched || second.PaymentRequestID != "req-2" {
		t.Fatalf("expected a new message to settle req-2, got %s", second)
	}

	approved, err := h.orch.Approve(context.Background(), "req-2")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Request.Status != models.StatusApproved || approved.Event == nil {
		t.Errorf("expected approved request with an event, got %+v", approved)
	}
	if !h.balance(t).Equal(decimal.RequireFromString("5000")) {
		t.Errorf("expected balance 5000, got %s", h.balance(t))
	}
	if h.publisher.count() != 1 {
		t.Errorf("expected one event, got %d", h.publisher.count())
	}

	if _, err := h.orch.Approve(context.Background(), "req-2"); !errors.HasCode(err, errors.CodeIllegalTransition) {
		t.Errorf("expected second approval to be illegal, got %v", err)
	}
}

func TestExpireDue(t *testing.T) {
	h := newHarness(t)
	expires := t0.Add(30 * time.Minute)
	req := &models.PaymentRequest{
		ID:         "req-exp",
		Reference:  "REF-exp",
		MerchantID: "merchant-1",
		Amount:     decimal.NewFromInt(100),
		Status:     models.StatusPending,
		CreatedAt:  t0,
		ExpiresAt:  &expires,
	}
	if err := h.store.Requests.Create(context.Background(), req); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	h.createRequest(t, "req-open", "100.00", t0, "")

	expired, err := h.orch.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "req-exp" || expired[0].Status != models.StatusExpired {
		t.Fatalf("expected req-exp to expire, got %+v", expired)
	}
	if h.request(t, "req-open").Status != models.StatusPending {
		t.Error("expected request without expiry to stay pending")
	}
}

func TestDispatchOutboxRetriesFailedEvents(t *testing.T) {
	h := newHarness(t)
	h.publisher.setFail(true)
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

	outcome := mustIngest(t, h, input(creditAlert("5,000.00", "John Doe"), t0.Add(time.Minute)))
	if !outcome.Matched {
		t.Fatalf("expected a match even when publishing fails, got %s", outcome)
	}

	pending, err := h.store.Outbox.Pending(context.Background(), 0)
	if err != nil {
		t.Fatalf("failed to list outbox: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the event to stay pending, got %d", len(pending))
	}

	h.publisher.setFail(false)
	stats, err := h.orch.DispatchOutbox(context.Background())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if stats.Dispatched != 1 || stats.Failed != 0 {
		t.Errorf("expected one dispatched event, got %+v", stats)
	}

	stats, err = h.orch.DispatchOutbox(context.Background())
	if err != nil {
		t.Fatalf("second dispatch failed: %v", err)
	}
	if stats.Pending != 0 || h.publisher.count() != 1 {
		t.Errorf("expected nothing left to dispatch, got %+v and %d events", stats, h.publisher.count())
	}
}

func TestIngestBatch(t *testing.T) {
	h := newHarness(t)
	h.createRequest(t, "req-1", "5000.00", t0, "John Doe")

	matching := input(creditAlert("5,000.00", "John Doe"), t0.Add(time.Minute))
	missing := input("", t0.Add(time.Minute))
	missing.Channel = ""

	inputs := []IngestInput{
		matching,
		input(creditAlert("700.00", "Ada Obi"), t0.Add(2*time.Minute)),
		matching,
		missing,
	}

	result := h.orch.IngestBatch(context.Background(), inputs)
	if len(result.Items) != len(inputs) {
		t.Fatalf("expected %d items, got %d", len(inputs), len(result.Items))
	}
	for i, it := range result.Items {
		if it.Index != i {
			t.Errorf("expected item %d to keep its index, got %d", i, it.Index)
		}
	}

	expected := map[string]int64{"matched": 1, "unmatched": 1, "duplicate": 1, "error": 1}
	for label, want := range expected {
		if result.Counts[label] != want {
			t.Errorf("expected %d %s, got %d (%v)", want, label, result.Counts[label], result.Counts)
		}
	}
	failed := result.Failed()
	if len(failed) != 1 || failed[0].Index != 3 || failed[0].Error == "" {
		t.Errorf("expected the input without a channel to fail, got %+v", failed)
	}
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
