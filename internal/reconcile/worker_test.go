package reconcile

import (
	"context"
	"testing"
	"time"

	"framevault/internal/storage"
)

func TestWorkerRunOnce(t *testing.T) {
	lc := &mockLedger{total: 2, mutations: map[int64]int64{}}
	gen := &mockGenerator{}
	w := NewWorker(New(lc, storage.NewMemory(), gen, nil), time.Hour)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(gen.generated) != 2 {
		t.Errorf("remediated %d items, want 2", len(gen.generated))
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	lc := &mockLedger{total: 0}
	w := NewWorker(New(lc, storage.NewMemory(), &mockGenerator{}, nil), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
