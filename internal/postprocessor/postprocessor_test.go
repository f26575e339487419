package postprocessor

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"PulseSend/internal/models"
)

type fakeFinalizer struct {
	mu    sync.Mutex
	calls [][]models.SendOutcome
	err   error
}

func (f *fakeFinalizer) FinalizeBatch(ctx context.Context, outcomes []models.SendOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]models.SendOutcome, len(outcomes))
	copy(cp, outcomes)
	f.calls = append(f.calls, cp)
	return f.err
}

func (f *fakeFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFinalizer) lastBatch() []models.SendOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestFlushesOnTimerWhenBelowBatchSize(t *testing.T) {
	queue := make(chan models.SendOutcome, 10)
	fin := &fakeFinalizer{}
	p := New(queue, fin, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	queue <- models.SendOutcome{RequestID: 1, Status: models.StatusSent}

	deadline := time.After(2 * time.Second)
	for fin.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a timer-triggered flush")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := len(fin.lastBatch()); got != 1 {
		t.Fatalf("expected 1 outcome in flush, got %d", got)
	}
}

func TestFlushesImmediatelyOnBatchSize(t *testing.T) {
	queue := make(chan models.SendOutcome, BatchSize+1)
	fin := &fakeFinalizer{}
	p := New(queue, fin, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < BatchSize; i++ {
		queue <- models.SendOutcome{RequestID: int64(i), Status: models.StatusSent}
	}

	deadline := time.After(2 * time.Second)
	for fin.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a size-triggered flush")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := len(fin.lastBatch()); got != BatchSize {
		t.Fatalf("expected %d outcomes in flush, got %d", BatchSize, got)
	}
}

func TestLastValueWinsForDuplicateIDs(t *testing.T) {
	queue := make(chan models.SendOutcome, 10)
	fin := &fakeFinalizer{}
	p := New(queue, fin, zap.NewNop())

	failed := "boom"
	queue <- models.SendOutcome{RequestID: 9, Status: models.StatusSent}
	queue <- models.SendOutcome{RequestID: 9, Status: models.StatusFailed, Error: &failed}

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)

	if fin.callCount() == 0 {
		t.Fatal("expected a flush on context cancellation")
	}
	batch := fin.lastBatch()
	if len(batch) != 1 || batch[0].Status != models.StatusFailed {
		t.Fatalf("expected last-value-wins dedup to keep the Failed outcome, got %+v", batch)
	}
}
