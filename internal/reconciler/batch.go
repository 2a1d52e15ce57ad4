package reconciler

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"golang-payment-matcher/pkg/logger"
)

// IngestBatch ingests inputs with at most BatchConcurrency in flight. Items
// keep their input order in the result. One failing item does not stop the
// others; its error is reported on the item.
func (o *Orchestrator) IngestBatch(ctx context.Context, inputs []IngestInput) *BatchResult {
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "ingest",
		Total:       int64(len(inputs)),
		LogInterval: 5 * time.Second,
		Logger:      o.logger,
	})

	items := make([]BatchItem, len(inputs))
	p := pool.New().WithMaxGoroutines(o.config.BatchConcurrency)
	for i := range inputs {
		p.Go(func() {
			item := BatchItem{Index: i}
			if err := ctx.Err(); err != nil {
				item.Err = err
			} else {
				item.Outcome, item.Err = o.Ingest(ctx, inputs[i])
			}

			if item.Err != nil {
				item.Error = item.Err.Error()
				tracker.Record("error")
			} else {
				tracker.Record(item.Outcome.Label())
			}
			items[i] = item
		})
	}
	p.Wait()

	var firstErr error
	for _, it := range items {
		if it.Err != nil {
			firstErr = it.Err
			break
		}
	}
	stats := tracker.Complete(firstErr)

	return &BatchResult{
		Items:    items,
		Counts:   stats.Outcomes,
		Duration: stats.Duration,
	}
}
