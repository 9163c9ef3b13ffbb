package workerproc

import (
	"context"
	"errors"
	"sync"
	"time"

	"callqa-backend/internal/queue"
	"callqa-backend/internal/shared/metrics"
	"callqa-backend/internal/shared/telemetry"
)

// ErrQueueClosed is returned by Send after Close.
var ErrQueueClosed = errors.New("local queue closed")

// LocalQueue dispatches jobs in-process under the same retry policy as the
// SQS worker. It is meant for dev runs without a queue.
type LocalQueue struct {
	processor Processor
	policy    RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// wait blocks for d or until ctx ends. Tests replace it.
	wait func(ctx context.Context, d time.Duration) error
}

// NewLocalQueue constructs a LocalQueue.
func NewLocalQueue(processor Processor, policy RetryPolicy) *LocalQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		processor: processor,
		policy:    policy,
		ctx:       ctx,
		cancel:    cancel,
		wait:      sleepContext,
	}
}

// Send schedules msg and returns immediately.
func (q *LocalQueue) Send(ctx context.Context, msg queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(string(body))
	}()
	return nil
}

func (q *LocalQueue) run(body string) {
	msg, meta, err := ParseMessage(body)
	if err != nil {
		metrics.IncJobDropped()
		telemetry.Error("worker.job.decode_failed", map[string]any{
			"body_len":    meta.BodyLen,
			"body_sha256": meta.BodySHA,
			"error":       err.Error(),
		})
		return
	}

	for attempt := 1; ; attempt++ {
		err := HandleMessage(q.ctx, q.processor, msg)
		action, delay := q.policy.Decide(err, attempt)
		fields := map[string]any{
			"call_id":    msg.CallID,
			"request_id": msg.RequestID,
			"attempt":    attempt,
			"action":     action.String(),
		}
		switch action {
		case ActionAck:
			telemetry.Info("worker.job.completed", fields)
			return
		case ActionDrop:
			fields["error"] = err.Error()
			metrics.IncJobDropped()
			telemetry.Error("worker.job.failed", fields)
			return
		}

		fields["error"] = err.Error()
		fields["retry_in_ms"] = delay.Milliseconds()
		metrics.IncJobRetried()
		telemetry.Warn("worker.job.retry", fields)
		if err := q.wait(q.ctx, delay); err != nil {
			return
		}
	}
}

// Close stops accepting jobs and waits for running ones until ctx ends.
// Jobs still running then are cancelled.
func (q *LocalQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ queue.Client = (*LocalQueue)(nil)
