package dispatch

import (
	"context"
	"fmt"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/pkg/logging"
)

// Publisher enqueues lead sync jobs for asynchronous processing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("dispatch: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueLeadUpsert publishes a qualified lead for CRM sync and notification.
func (p *Publisher) EnqueueLeadUpsert(ctx context.Context, lead leads.Lead) error {
	return p.enqueue(ctx, jobTypeLeadUpsert, lead)
}

// EnqueueSalesHandoff publishes a direct sales contact request.
func (p *Publisher) EnqueueSalesHandoff(ctx context.Context, lead leads.Lead) error {
	return p.enqueue(ctx, jobTypeSalesHandoff, lead)
}

func (p *Publisher) enqueue(ctx context.Context, kind jobType, lead leads.Lead) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, body, err := encodePayload(kind, lead)
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("dispatch: failed to enqueue job: %w", err)
	}

	p.logger.Debug("lead job enqueued", "job_id", payload.ID, "kind", kind)
	return nil
}
