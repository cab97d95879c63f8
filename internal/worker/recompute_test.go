package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"leadline/internal/engine"
)

func TestSubmitCollapsesDuplicates(t *testing.T) {
	r := NewRecomputer(engine.Engine{}, nil)
	r.Submit("c-1")
	r.Submit("c-1")
	r.Submit("c-2")
	if got := len(r.queue); got != 2 {
		t.Fatalf("queue length = %d, want 2", got)
	}
}

func TestSubmitIgnoresEmptyID(t *testing.T) {
	r := NewRecomputer(engine.Engine{}, nil)
	r.Submit("")
	if got := len(r.queue); got != 0 {
		t.Fatalf("queue length = %d, want 0", got)
	}
}

func TestSubmitNeverBlocksWhenFull(t *testing.T) {
	r := NewRecomputer(engine.Engine{}, nil)
	for i := 0; i < defaultQueueDepth+10; i++ {
		r.Submit(fmt.Sprintf("c-%d", i))
	}
	if got := len(r.queue); got != defaultQueueDepth {
		t.Fatalf("queue length = %d, want %d", got, defaultQueueDepth)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRecomputer(engine.Engine{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
