package app

import (
	"context"
	"errors"
	"time"

	"postcraft/pkg/domain"
	"postcraft/pkg/events"
	"postcraft/pkg/queue"
	"postcraft/services/generator/internal/ledger"
)

const sweepBatch = 100

// Sweep fails pending jobs older than the stale threshold and refunds them.
// It returns how many jobs it closed.
func (a *App) Sweep(ctx context.Context) (int, error) {
	before := a.now().Add(-a.staleAfter)
	jobs, err := a.store.ListStalePending(ctx, before, sweepBatch)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, job := range jobs {
		moved, err := a.store.FailPending(ctx, job.ID, domain.StageInterrupted, failureMessage(domain.StageInterrupted))
		if err != nil {
			a.logger.Error("sweep fail pending", "generation_id", job.ID, "err", err)
			continue
		}
		if !moved {
			continue
		}
		closed++
		refunded, err := a.ledger.Refund(ctx, job.ID)
		if err != nil {
			a.logger.Error("sweep refund failed", "generation_id", job.ID, "err", err)
			if a.refunds != nil {
				if _, qerr := a.refunds.Enqueue(ctx, job.ID, string(domain.StageInterrupted)); qerr != nil {
					a.logger.Error("enqueue refund failed", "generation_id", job.ID, "err", qerr)
				}
			}
			continue
		}
		if !refunded {
			continue
		}
		a.logger.Info("interrupted generation refunded", "generation_id", job.ID, "uid", job.UID)
		a.publish(ctx, events.Event{Type: events.TypeCreditsRefunded, GenerationID: job.ID, UID: job.UID,
			Stage: string(domain.StageInterrupted)}, a.logger)
	}
	return closed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.Sweep(ctx); err != nil {
				a.logger.Error("sweep failed", "err", err)
			} else if n > 0 {
				a.logger.Info("sweep closed interrupted generations", "count", n)
			}
		}
	}
}

// HandleRefundTask is the refund queue handler. Refunds are idempotent, so
// redelivery is harmless.
func (a *App) HandleRefundTask(ctx context.Context, task queue.RefundTask) error {
	refunded, err := a.ledger.Refund(ctx, task.GenerationID)
	if errors.Is(err, ledger.ErrJobNotFound) {
		a.logger.Warn("refund task for unknown generation", "generation_id", task.GenerationID)
		return nil
	}
	if err != nil {
		return err
	}
	if refunded {
		a.logger.Info("deferred refund applied", "generation_id", task.GenerationID, "attempts", task.Attempts)
	}
	return nil
}
