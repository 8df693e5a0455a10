package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Publisher/Consumer backed by an in-memory buffered channel.
// Delayed messages are released by a timer, mirroring SQS DelaySeconds.
type MemoryQueue struct {
	ch     chan ReceivedMessage
	mu     sync.Mutex
	timers []*time.Timer
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch: make(chan ReceivedMessage, buffer),
	}
}

// Send enqueues a message, honoring its delay, or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg, body, err := msg.Encode()
	if err != nil {
		return err
	}
	received := ReceivedMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}

	if msg.DelaySeconds > 0 {
		q.mu.Lock()
		q.timers = append(q.timers, time.AfterFunc(time.Duration(msg.DelaySeconds)*time.Second, func() {
			q.ch <- received
		}))
		q.mu.Unlock()
		return nil
	}

	select {
	case q.ch <- received:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchSend enqueues every message; the first failure aborts the batch.
func (q *MemoryQueue) BatchSend(ctx context.Context, msgs []Message) error {
	for _, msg := range msgs {
		if err := q.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Receive blocks until a message is available, ctx is done, or waitSeconds
// elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]ReceivedMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timer *time.Timer
	if waitSeconds > 0 {
		timer = time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
	}

	if timer == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-q.ch:
			return q.collect(ctx, msg, maxMessages), nil
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(ctx, msg, maxMessages), nil
	}
}

// Delete is a no-op for the in-memory queue.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}

// Stop cancels pending delayed deliveries.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.timers {
		t.Stop()
	}
	q.timers = nil
}

func (q *MemoryQueue) collect(ctx context.Context, first ReceivedMessage, max int) []ReceivedMessage {
	messages := make([]ReceivedMessage, 0, max)
	messages = append(messages, first)

	for len(messages) < max {
		select {
		case <-ctx.Done():
			return messages
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			return messages
		}
	}
	return messages
}

var (
	_ Publisher = (*MemoryQueue)(nil)
	_ Consumer  = (*MemoryQueue)(nil)
)
