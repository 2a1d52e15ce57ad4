package matcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/logger"
)

// TestSelectAndEvaluate runs the selector and engine together over an index
func TestSelectAndEvaluate(t *testing.T) {
	idx := NewRequestIndex(createTestRequests())
	selector := NewSelector(idx)
	engine := NewEngine(DefaultConfig(), logger.Discard())

	msg := &models.RawMessage{ID: "msg-1", MerchantID: "merchant-1", ReceivedAt: baseTime.Add(5 * time.Minute)}
	info := newInfo("5000.00", "")

	candidates, err := selector.SelectCandidates(context.Background(), info, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := engine.Evaluate(info, msg, candidates)
	if !d.Matched() {
		t.Fatalf("expected a match, got %q", d.Reason)
	}
	if d.Winner.RequestID != "req-1" {
		t.Errorf("expected req-1, got %s", d.Winner.RequestID)
	}
	if d.Winner.TimeDiffMinutes != 3 {
		t.Errorf("expected 3 minute time diff, got %v", d.Winner.TimeDiffMinutes)
	}
}

func TestPerformanceWithLargeDataset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large dataset test in short mode")
	}

	requests := createLargeRequestDataset(20000)
	idx := NewRequestIndex(requests)
	selector := NewSelector(idx)
	engine := NewEngine(DefaultConfig(), logger.Discard())

	start := time.Now()
	matched := 0
	for i := 0; i < 500; i++ {
		target := requests[i*37%len(requests)]
		msg := &models.RawMessage{
			ID:         fmt.Sprintf("msg-%d", i),
			MerchantID: target.MerchantID,
			ReceivedAt: target.CreatedAt.Add(time.Minute),
		}
		info := newInfo(target.Amount.StringFixed(2), "")

		candidates, err := selector.SelectCandidates(context.Background(), info, msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if engine.Evaluate(info, msg, candidates).Matched() {
			matched++
		}
	}
	elapsed := time.Since(start)

	t.Logf("evaluated 500 messages against %d requests in %v", len(requests), elapsed)
	if matched != 500 {
		t.Errorf("expected every message to match its request, got %d", matched)
	}
	if elapsed > 30*time.Second {
		t.Errorf("evaluation too slow: %v", elapsed)
	}
}

func TestConcurrentEvaluate(t *testing.T) {
	idx := NewRequestIndex(createTestRequests())
	selector := NewSelector(idx)
	engine := NewEngine(DefaultConfig(), logger.Discard())

	const workers = 10
	results := make(chan string, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &models.RawMessage{
				ID:         fmt.Sprintf("msg-%d", i),
				MerchantID: "merchant-1",
				ReceivedAt: baseTime.Add(5 * time.Minute),
			}
			info := newInfo("5000.00", "")
			candidates, err := selector.SelectCandidates(context.Background(), info, msg)
			if err != nil {
				errs <- err
				return
			}
			d := engine.Evaluate(info, msg, candidates)
			if !d.Matched() {
				errs <- fmt.Errorf("worker %d: %s", i, d.Reason)
				return
			}
			results <- d.Winner.RequestID
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("concurrent evaluation timed out")
	}
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	for id := range results {
		if id != "req-1" {
			t.Errorf("expected every worker to pick req-1, got %s", id)
		}
	}
}

func createLargeRequestDataset(size int) []*models.PaymentRequest {
	requests := make([]*models.PaymentRequest, size)
	for i := 0; i < size; i++ {
		requests[i] = &models.PaymentRequest{
			ID:         fmt.Sprintf("req-%05d", i),
			Reference:  fmt.Sprintf("ORD-%05d", i),
			MerchantID: fmt.Sprintf("merchant-%d", i%40),
			Amount:     decimal.NewFromInt(int64(1000 + i)).Div(decimal.NewFromInt(100)).Add(decimal.NewFromInt(int64(i))),
			Status:     models.StatusPending,
			CreatedAt:  baseTime.Add(time.Duration(i) * time.Second),
		}
	}
	return requests
}
