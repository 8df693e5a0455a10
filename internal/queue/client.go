package queue

import "context"

// Publisher enqueues messages with at-least-once delivery. Callers must
// tolerate duplicates; there is no ordering guarantee across messages.
type Publisher interface {
	Send(ctx context.Context, msg Message) error
	BatchSend(ctx context.Context, msgs []Message) error
}

// Consumer is the worker-side view of the queue.
type Consumer interface {
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]ReceivedMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// ReceivedMessage pairs a raw body with its delivery receipt.
type ReceivedMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}
