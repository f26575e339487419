package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"PulseSend/internal/models"
)

type fakeClaimer struct {
	mu      sync.Mutex
	batches [][]models.ClaimedRequest
	idx     int
	calls   int
}

func (f *fakeClaimer) ClaimDue(ctx context.Context, limit int) ([]models.ClaimedRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.idx >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.idx]
	f.idx++
	return b, nil
}

func (f *fakeClaimer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunEnqueuesClaimedRows(t *testing.T) {
	claimer := &fakeClaimer{batches: [][]models.ClaimedRequest{
		{{RequestID: 1}, {RequestID: 2}},
	}}
	sendQueue := make(chan models.ClaimedRequest, 10)
	s := New(claimer, sendQueue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	received := map[int64]bool{}
	deadline := time.After(2 * time.Second)
	for len(received) < 2 {
		select {
		case req := <-sendQueue:
			received[req.RequestID] = true
		case <-deadline:
			t.Fatal("did not receive both claimed rows in time")
		}
	}
}

func TestRunLoopsImmediatelyOnFullBatch(t *testing.T) {
	full := make([]models.ClaimedRequest, Batch)
	for i := range full {
		full[i] = models.ClaimedRequest{RequestID: int64(i)}
	}
	claimer := &fakeClaimer{batches: [][]models.ClaimedRequest{full, {{RequestID: 99999}}}}
	sendQueue := make(chan models.ClaimedRequest, Batch+1)
	s := New(claimer, sendQueue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for claimer.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("expected an immediate second claim after a full batch")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
