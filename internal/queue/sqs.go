package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS caps batch submissions at 10 entries.
const sqsBatchMax = 10

// SQSQueue implements Publisher and Consumer backed by AWS/LocalStack SQS.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue creates a queue wrapper around the provided SQS client.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	if client == nil {
		panic("queue: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("queue: SQS queueURL cannot be empty")
	}
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
	}
}

// Send enqueues a single message, honoring its delivery delay.
func (q *SQSQueue) Send(ctx context.Context, msg Message) error {
	msg, body, err := msg.Encode()
	if err != nil {
		return err
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	}
	if msg.DelaySeconds > 0 {
		input.DelaySeconds = msg.DelaySeconds
	}
	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send SQS message: %w", err)
	}
	return nil
}

// BatchSend flushes messages in groups of 10. Any failed flush (including a
// partial failure within a batch) propagates without retry; the caller owns
// the retry decision.
func (q *SQSQueue) BatchSend(ctx context.Context, msgs []Message) error {
	for start := 0; start < len(msgs); start += sqsBatchMax {
		end := start + sqsBatchMax
		if end > len(msgs) {
			end = len(msgs)
		}

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, msg := range msgs[start:end] {
			msg, body, err := msg.Encode()
			if err != nil {
				return err
			}
			entry := types.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("m%d", start+i)),
				MessageBody: aws.String(body),
			}
			if msg.DelaySeconds > 0 {
				entry.DelaySeconds = msg.DelaySeconds
			}
			entries = append(entries, entry)
		}

		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("queue: failed to send SQS batch: %w", err)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return fmt.Errorf("queue: %d of %d batch entries failed, first: %s (%s)",
				len(out.Failed), len(entries), aws.ToString(first.Message), aws.ToString(first.Code))
		}
	}
	return nil
}

// Receive long-polls for up to maxMessages.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]ReceivedMessage, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	}

	output, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to receive SQS messages: %w", err)
	}

	messages := make([]ReceivedMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		messages = append(messages, ReceivedMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}

	return messages, nil
}

// Delete acknowledges a message.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("queue: failed to delete SQS message: %w", err)
	}
	return nil
}

var (
	_ Publisher = (*SQSQueue)(nil)
	_ Consumer  = (*SQSQueue)(nil)
)
