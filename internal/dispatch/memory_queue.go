package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is the single-process stand-in for SQS. Jobs live in a buffered
// channel, so delivery is at-most-once and a restart drops whatever is queued;
// acceptable for development and small deployments.
type MemoryQueue struct {
	jobs chan queueMessage
}

// NewMemoryQueue creates a queue holding up to buffer pending jobs.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{jobs: make(chan queueMessage, buffer)}
}

// Send enqueues a job, blocking while the buffer is full until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := queueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}
	select {
	case q.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for a first job, then drains whatever else
// is immediately available up to maxMessages. A nil slice with a nil error
// means the wait elapsed empty, mirroring an SQS long poll.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]queueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var expired <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		return nil, nil
	case first := <-q.jobs:
		batch := []queueMessage{first}
		for len(batch) < maxMessages {
			select {
			case msg := <-q.jobs:
				batch = append(batch, msg)
			default:
				return batch, nil
			}
		}
		return batch, nil
	}
}

// Delete is a no-op: channel receives already consume the job.
func (q *MemoryQueue) Delete(context.Context, string) error {
	return nil
}

var _ queueClient = (*MemoryQueue)(nil)
