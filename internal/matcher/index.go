package matcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang-payment-matcher/internal/models"
)

// RequestIndex is an in-memory RequestSource. It indexes requests by merchant
// and account number so lookups do not scan every request, and is used for
// dry runs over imported request files and in tests.
type RequestIndex struct {
	mu sync.RWMutex

	// byID maps request IDs to requests
	byID map[string]*models.PaymentRequest

	// byAccount maps normalised account numbers to requests
	byAccount map[string][]*models.PaymentRequest

	// byMerchant maps merchant IDs to requests
	byMerchant map[string][]*models.PaymentRequest

	// all holds every indexed request in creation order
	all []*models.PaymentRequest
}

// NewRequestIndex creates an index over the given requests
func NewRequestIndex(requests []*models.PaymentRequest) *RequestIndex {
	idx := &RequestIndex{
		byID:       make(map[string]*models.PaymentRequest),
		byAccount:  make(map[string][]*models.PaymentRequest),
		byMerchant: make(map[string][]*models.PaymentRequest),
	}
	for _, r := range requests {
		idx.add(r)
	}
	idx.sortAll()
	return idx
}

// Add indexes one more request
func (idx *RequestIndex) Add(r *models.PaymentRequest) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.add(r)
	idx.sortAll()
}

func (idx *RequestIndex) add(r *models.PaymentRequest) {
	idx.byID[r.ID] = r
	if acc := models.NormalizeAccountNumber(r.AccountNumber); acc != "" {
		idx.byAccount[acc] = append(idx.byAccount[acc], r)
	}
	idx.byMerchant[r.MerchantID] = append(idx.byMerchant[r.MerchantID], r)
	idx.all = append(idx.all, r)
}

func (idx *RequestIndex) sortAll() {
	sort.SliceStable(idx.all, func(i, j int) bool {
		return idx.all[i].CreatedAt.Before(idx.all[j].CreatedAt)
	})
}

// Get returns a request by ID
func (idx *RequestIndex) Get(id string) (*models.PaymentRequest, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byID[id]
	return r, ok
}

// PendingRequests implements RequestSource
func (idx *RequestIndex) PendingRequests(_ context.Context, q RequestQuery) ([]*models.PaymentRequest, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	pool := idx.all
	switch {
	case q.AccountNumber != "":
		pool = idx.byAccount[models.NormalizeAccountNumber(q.AccountNumber)]
	case q.MerchantID != "":
		pool = idx.byMerchant[q.MerchantID]
	}

	var out []*models.PaymentRequest
	for _, r := range pool {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// RecentApprovals implements ApprovalSource
func (idx *RequestIndex) RecentApprovals(_ context.Context, merchantID string, since time.Time) ([]*models.PaymentRequest, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []*models.PaymentRequest
	for _, r := range idx.all {
		if r.Status != models.StatusApproved || r.CreatedAt.Before(since) {
			continue
		}
		if merchantID != "" && r.MerchantID != merchantID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Stats returns index size information
func (idx *RequestIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return IndexStats{
		TotalRequests: len(idx.all),
		Accounts:      len(idx.byAccount),
		Merchants:     len(idx.byMerchant),
	}
}

// IndexStats describes the size of a RequestIndex
type IndexStats struct {
	TotalRequests int `json:"total_requests"`
	Accounts      int `json:"accounts"`
	Merchants     int `json:"merchants"`
}
