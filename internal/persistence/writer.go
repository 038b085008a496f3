package persistence

import (
	"context"
	"log/slog"
	"time"
)

type writeOp struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes cache writes off the frame-handling path so a slow
// disk never blocks delivery.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeOp
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = 256
	}

	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeOp, capacity),
	}
}

func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	op := writeOp{name: name, fn: fn}
	select {
	case w.queue <- op:
	default:
		go func() { w.queue <- op }()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case op := <-w.queue:
				w.runWithRetry(ctx, op)
			}
		}
	}()
}

func (w *WriterQueue) runWithRetry(ctx context.Context, op writeOp) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := op.fn(ctx); err != nil {
			w.logger.Error("cache write failed", "op", op.name, "attempt", attempt, "error", err)
			if attempt == maxAttempts {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}

			continue
		}

		return
	}
}
