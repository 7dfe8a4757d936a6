package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	dequeueTimeout = 5 * time.Second
	// maxRetries counts retries after the first attempt: 3 attempts total.
	maxRetries     = 2
	defaultBackoff = 10 * time.Second
)

// TaskSource yields queued tasks; a nil task means the queue stayed empty.
type TaskSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
}

// Worker drains the queue and delivers verification codes. A task that still
// fails after all attempts is logged and dropped; the auth core never
// observes delivery outcomes.
type Worker struct {
	source  TaskSource
	sender  Sender
	logger  *zap.Logger
	backoff time.Duration
}

// NewWorker wires a delivery worker.
func NewWorker(source TaskSource, sender Sender, logger *zap.Logger) *Worker {
	return &Worker{source: source, sender: sender, logger: logger, backoff: defaultBackoff}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.source.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		if task == nil {
			continue
		}
		if err := w.Deliver(ctx, *task); err != nil {
			w.logger.Error("verification delivery dropped",
				zap.String("email", task.Email),
				zap.Error(err),
			)
		}
	}
}

// Deliver sends one task, retrying with exponential backoff.
func (w *Worker) Deliver(ctx context.Context, task Task) error {
	subject := "Verify your Postika account"
	body := fmt.Sprintf("Your verification code is: %s", task.Code)

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(w.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.sender.Send(ctx, task.Email, subject, body); err != nil {
			w.logger.Warn("verification delivery failed",
				zap.String("email", task.Email),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
}
