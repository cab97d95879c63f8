package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"leadline/internal/engine"
)

const defaultQueueDepth = 256

// Recomputer recalculates contact scores off the request path. Submit is
// non-blocking and collapses duplicate submissions for a contact that is
// already queued; a full queue drops the submission. Score recomputation
// is always safe to drop, the next read or sweep recomputes anyway.
type Recomputer struct {
	engine engine.Engine
	log    *zap.Logger

	queue chan string
	mu    sync.Mutex
	inQ   map[string]struct{}
}

func NewRecomputer(e engine.Engine, log *zap.Logger) *Recomputer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recomputer{
		engine: e,
		log:    log,
		queue:  make(chan string, defaultQueueDepth),
		inQ:    make(map[string]struct{}),
	}
}

// Submit enqueues a contact for recomputation. Never blocks.
func (r *Recomputer) Submit(contactID string) {
	if contactID == "" {
		return
	}
	r.mu.Lock()
	if _, queued := r.inQ[contactID]; queued {
		r.mu.Unlock()
		return
	}
	select {
	case r.queue <- contactID:
		r.inQ[contactID] = struct{}{}
	default:
		r.log.Warn("recompute queue full, dropping", zap.String("contact_id", contactID))
	}
	r.mu.Unlock()
}

// Run drains the queue until ctx is cancelled.
func (r *Recomputer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.mu.Lock()
			delete(r.inQ, id)
			r.mu.Unlock()
			if _, err := r.engine.CalculateScore(ctx, id); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Warn("score recompute failed",
					zap.String("contact_id", id), zap.Error(err))
			}
		}
	}
}
