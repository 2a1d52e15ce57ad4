package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	pkgerrors "golang-payment-matcher/pkg/errors"
)

func createTestRequests() []*models.PaymentRequest {
	expiresAt := baseTime.Add(30 * time.Minute)
	return []*models.PaymentRequest{
		{
			ID:            "req-1",
			Reference:     "ORD-1",
			MerchantID:    "merchant-1",
			Amount:        decimal.RequireFromString("5000.00"),
			AccountNumber: "0123456789",
			Status:        models.StatusPending,
			CreatedAt:     baseTime.Add(2 * time.Minute),
		},
		{
			ID:            "req-2",
			Reference:     "ORD-2",
			MerchantID:    "merchant-1",
			Amount:        decimal.RequireFromString("2500.00"),
			AccountNumber: "0123-456-789",
			Status:        models.StatusPending,
			CreatedAt:     baseTime,
		},
		{
			ID:         "req-3",
			Reference:  "ORD-3",
			MerchantID: "merchant-2",
			Amount:     decimal.RequireFromString("5000.00"),
			Status:     models.StatusPending,
			CreatedAt:  baseTime.Add(time.Minute),
			ExpiresAt:  &expiresAt,
		},
		{
			ID:         "req-4",
			Reference:  "ORD-4",
			MerchantID: "merchant-1",
			Amount:     decimal.RequireFromString("5000.00"),
			Status:     models.StatusApproved,
			CreatedAt:  baseTime.Add(3 * time.Minute),
		},
	}
}

func ids(requests []*models.PaymentRequest) []string {
	out := make([]string, len(requests))
	for i, r := range requests {
		out[i] = r.ID
	}
	return out
}

func TestNewRequestIndex(t *testing.T) {
	idx := NewRequestIndex(createTestRequests())

	stats := idx.Stats()
	if stats.TotalRequests != 4 {
		t.Errorf("expected 4 requests, got %d", stats.TotalRequests)
	}
	if stats.Accounts != 1 {
		t.Errorf("expected 1 normalised account, got %d", stats.Accounts)
	}
	if stats.Merchants != 2 {
		t.Errorf("expected 2 merchants, got %d", stats.Merchants)
	}

	if _, ok := idx.Get("req-3"); !ok {
		t.Error("expected req-3 to be indexed")
	}
	if _, ok := idx.Get("missing"); ok {
		t.Error("expected missing request not to be found")
	}
}

func TestRequestIndex_PendingRequests(t *testing.T) {
	idx := NewRequestIndex(createTestRequests())
	ctx := context.Background()

	tests := []struct {
		name  string
		query RequestQuery
		want  []string
	}{
		{"all pending in creation order", RequestQuery{}, []string{"req-2", "req-3", "req-1"}},
		{"by merchant", RequestQuery{MerchantID: "merchant-1"}, []string{"req-2", "req-1"}},
		{"by formatted account", RequestQuery{AccountNumber: "012 345 6789"}, []string{"req-2", "req-1"}},
		{"expired excluded", RequestQuery{LiveAt: baseTime.Add(time.Hour)}, []string{"req-2", "req-1"}},
		{"unknown merchant", RequestQuery{MerchantID: "nobody"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.PendingRequests(ctx, tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotIDs := ids(got)
			if len(gotIDs) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, gotIDs)
			}
			for i := range tt.want {
				if gotIDs[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, gotIDs)
					break
				}
			}
		})
	}
}

func TestRequestIndex_RecentApprovals(t *testing.T) {
	idx := NewRequestIndex(createTestRequests())
	ctx := context.Background()

	got, _ := idx.RecentApprovals(ctx, "merchant-1", baseTime)
	if len(got) != 1 || got[0].ID != "req-4" {
		t.Errorf("expected req-4, got %v", ids(got))
	}

	got, _ = idx.RecentApprovals(ctx, "merchant-1", baseTime.Add(time.Hour))
	if len(got) != 0 {
		t.Errorf("expected no approvals after window start, got %v", ids(got))
	}

	got, _ = idx.RecentApprovals(ctx, "merchant-2", baseTime)
	if len(got) != 0 {
		t.Errorf("expected merchant scope to apply, got %v", ids(got))
	}
}

func TestRequestIndex_Add(t *testing.T) {
	idx := NewRequestIndex(nil)
	idx.Add(newRequest("late", "10.00", baseTime.Add(time.Hour), ""))
	idx.Add(newRequest("early", "10.00", baseTime, ""))

	got, _ := idx.PendingRequests(context.Background(), RequestQuery{})
	if len(got) != 2 || got[0].ID != "early" {
		t.Errorf("expected creation order after Add, got %v", ids(got))
	}
}

type failingSource struct{}

func (failingSource) PendingRequests(context.Context, RequestQuery) ([]*models.PaymentRequest, error) {
	return nil, errors.New("database is locked")
}

// looseSource ignores the query entirely
type looseSource struct{ requests []*models.PaymentRequest }

func (s looseSource) PendingRequests(context.Context, RequestQuery) ([]*models.PaymentRequest, error) {
	return s.requests, nil
}

func TestSelectCandidates(t *testing.T) {
	ctx := context.Background()
	msg := &models.RawMessage{ID: "msg-1", MerchantID: "merchant-1", ReceivedAt: baseTime.Add(5 * time.Minute)}

	t.Run("scoped to merchant", func(t *testing.T) {
		s := NewSelector(NewRequestIndex(createTestRequests()))
		got, err := s.SelectCandidates(ctx, newInfo("5000.00", ""), msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected both pending merchant-1 requests regardless of amount, got %v", ids(got))
		}
	})

	t.Run("restricted by extracted account", func(t *testing.T) {
		info := newInfo("5000.00", "")
		info.AccountNumber = strPtr("9999999999")
		got, err := NewSelector(NewRequestIndex(createTestRequests())).SelectCandidates(ctx, info, msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no candidates for unknown account, got %v", ids(got))
		}
	})

	t.Run("loose source re-filtered", func(t *testing.T) {
		got, err := NewSelector(looseSource{createTestRequests()}).SelectCandidates(ctx, newInfo("5000.00", ""), msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, r := range got {
			if r.Status != models.StatusPending || r.MerchantID != "merchant-1" {
				t.Errorf("unexpected candidate %s", r.ID)
			}
		}
	})

	t.Run("source failure", func(t *testing.T) {
		_, err := NewSelector(failingSource{}).SelectCandidates(ctx, newInfo("5000.00", ""), msg)
		if err == nil {
			t.Fatal("expected error")
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeQueryFailed) {
			t.Errorf("expected query_failed code, got %v", err)
		}
	})
}

func BenchmarkRequestIndex_PendingRequests(b *testing.B) {
	var requests []*models.PaymentRequest
	for i := 0; i < 10000; i++ {
		r := newRequest(decimal.NewFromInt(int64(i)).String(), "100.00", baseTime.Add(time.Duration(i)*time.Second), "")
		r.MerchantID = "merchant-" + decimal.NewFromInt(int64(i%50)).String()
		requests = append(requests, r)
	}
	idx := NewRequestIndex(requests)
	q := RequestQuery{MerchantID: "merchant-7"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.PendingRequests(context.Background(), q)
	}
}
