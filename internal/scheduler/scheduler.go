// Package scheduler periodically claims due EmailRequest rows from the
// Store and hands them to the Dispatcher via the send queue.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PulseSend/internal/metrics"
	"PulseSend/internal/models"
)

const (
	// Batch is the max rows claimed per tick.
	Batch = 1000
	// IdleDelay is how long to wait after an empty claim before trying again.
	IdleDelay = 10 * time.Second
	// ErrorBackoff is how long to wait after a claim error before retrying.
	ErrorBackoff = 5 * time.Second
)

// Claimer is the subset of store.Store the Scheduler depends on.
type Claimer interface {
	ClaimDue(ctx context.Context, limit int) ([]models.ClaimedRequest, error)
}

type Scheduler struct {
	claimer   Claimer
	sendQueue chan<- models.ClaimedRequest
	log       *zap.Logger
}

func New(claimer Claimer, sendQueue chan<- models.ClaimedRequest, log *zap.Logger) *Scheduler {
	return &Scheduler{claimer: claimer, sendQueue: sendQueue, log: log}
}

// Run claims and enqueues until ctx is cancelled. A full batch triggers an
// immediate re-claim; an empty batch waits IdleDelay; a claim error waits
// ErrorBackoff. Enqueueing onto sendQueue blocks, providing back-pressure
// from the Dispatcher all the way to the claim loop.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := s.claimer.ClaimDue(ctx, Batch)
		if err != nil {
			s.log.Error("claim due failed", zap.Error(err))
			if !sleepOrDone(ctx, ErrorBackoff) {
				return
			}
			continue
		}

		metrics.SchedulerClaimed.Observe(float64(len(claimed)))

		for _, req := range claimed {
			select {
			case s.sendQueue <- req:
			case <-ctx.Done():
				return
			}
		}

		if len(claimed) >= Batch {
			continue
		}

		if !sleepOrDone(ctx, IdleDelay) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
