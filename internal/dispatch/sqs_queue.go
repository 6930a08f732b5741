package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSQueue carries lead jobs over SQS so a crashed process loses nothing:
// unacknowledged jobs reappear after the visibility timeout.
type SQSQueue struct {
	client *sqs.Client
	url    string
}

// NewSQSQueue wraps an SQS client for the given queue URL. Both are required;
// deployments without SQS use the memory queue instead.
func NewSQSQueue(client *sqs.Client, url string) *SQSQueue {
	if client == nil {
		panic("dispatch: SQS client cannot be nil")
	}
	if url == "" {
		panic("dispatch: SQS queue URL cannot be empty")
	}
	return &SQSQueue{client: client, url: url}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("dispatch: sqs send: %w", err)
	}
	return nil
}

// Receive long-polls for up to waitSeconds and returns at most maxMessages
// jobs. An empty slice means the wait elapsed with nothing queued.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]queueMessage, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: sqs receive: %w", err)
	}

	jobs := make([]queueMessage, len(output.Messages))
	for i, msg := range output.Messages {
		jobs[i] = queueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		}
	}
	return jobs, nil
}

// Delete acknowledges a handled job. Jobs without a receipt handle were never
// leased, so there is nothing to acknowledge.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("dispatch: sqs delete: %w", err)
	}
	return nil
}

var _ queueClient = (*SQSQueue)(nil)
