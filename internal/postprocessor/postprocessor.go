// Package postprocessor coalesces per-message send outcomes into bulk
// Store updates, trading per-message write latency for throughput.
package postprocessor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PulseSend/internal/metrics"
	"PulseSend/internal/models"
)

const (
	// BatchSize is the outcome count that triggers an early flush.
	BatchSize = 100
	// FlushInterval is the maximum time an outcome waits before a flush.
	FlushInterval = 500 * time.Millisecond
)

// Finalizer is the subset of store.Store the Post-Processor depends on.
type Finalizer interface {
	FinalizeBatch(ctx context.Context, outcomes []models.SendOutcome) error
}

type PostProcessor struct {
	queue     <-chan models.SendOutcome
	finalizer Finalizer
	log       *zap.Logger
}

func New(queue <-chan models.SendOutcome, finalizer Finalizer, log *zap.Logger) *PostProcessor {
	return &PostProcessor{queue: queue, finalizer: finalizer, log: log}
}

// Run buffers outcomes until BatchSize is reached or FlushInterval elapses,
// then issues one FinalizeBatch call per flush. It returns once queue is
// closed and drained, flushing any remainder first.
func (p *PostProcessor) Run(ctx context.Context) {
	buf := make(map[int64]models.SendOutcome, BatchSize)
	order := make([]int64, 0, BatchSize)

	timer := time.NewTimer(FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(order) == 0 {
			return
		}
		outcomes := make([]models.SendOutcome, 0, len(order))
		for _, id := range order {
			outcomes = append(outcomes, buf[id])
		}
		metrics.PostProcessorFlushSize.Observe(float64(len(outcomes)))
		if err := p.finalizer.FinalizeBatch(ctx, outcomes); err != nil {
			metrics.PostProcessorFlushFailures.Inc()
			p.log.Error("flush failed, rows remain Processed", zap.Int("count", len(outcomes)), zap.Error(err))
		}
		buf = make(map[int64]models.SendOutcome, BatchSize)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// The final flush must not run on the cancelled ctx, or the
			// store call would fail before it starts.
			ctx = context.WithoutCancel(ctx)
			flush()
			return
		case outcome, ok := <-p.queue:
			if !ok {
				flush()
				return
			}
			if _, exists := buf[outcome.RequestID]; !exists {
				order = append(order, outcome.RequestID)
			}
			buf[outcome.RequestID] = outcome // last-value-wins for duplicate ids in one buffer
			if len(order) >= BatchSize {
				flush()
				timer.Reset(FlushInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(FlushInterval)
		}
	}
}
