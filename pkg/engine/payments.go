package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/pulseworks/pulse/pkg/types"
)

// BatchResult aggregates one batch-processing pass.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"` // locked elsewhere or no longer eligible
}

// PaymentScheduler drives recurring subscription payments in batches. It
// reuses the Coordinator for every payment, so batch processing and manual
// or timer-driven execution share the same per-entity lock.
type PaymentScheduler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewPaymentScheduler wraps a coordinator.
func NewPaymentScheduler(c *Coordinator) *PaymentScheduler {
	return &PaymentScheduler{
		coordinator: c,
		logger:      slog.Default().With("component", "payments"),
	}
}

// ProcessDuePayments executes every Active subscription with a due time at
// or before now. Subscriptions are processed concurrently and independently:
// one failure never aborts the rest. Results are joined, not raced.
func (p *PaymentScheduler) ProcessDuePayments(ctx context.Context, now time.Time) (BatchResult, error) {
	due, err := p.coordinator.store.FindDue(ctx, now)
	if err != nil {
		return BatchResult{}, err
	}
	subs := lo.Filter(due, func(e types.Entity, _ int) bool {
		return e.Kind() == types.KindSubscription
	})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		br BatchResult
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := p.coordinator.Execute(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Success:
				br.Processed++
				br.Succeeded++
			case err == nil:
				br.Processed++
				br.Failed++
			case errors.Is(err, types.ErrAlreadyRunning), errors.Is(err, types.ErrNotActive):
				// Raced a timer fire or a concurrent state change.
				br.Skipped++
			default:
				br.Processed++
				br.Failed++
				p.logger.Warn("due payment errored", "subscription", id, "error", err)
			}
		}(sub.Auto().ID)
	}
	wg.Wait()

	p.logger.Info("due payments processed",
		"due", len(subs), "processed", br.Processed,
		"succeeded", br.Succeeded, "failed", br.Failed, "skipped", br.Skipped)
	return br, nil
}
