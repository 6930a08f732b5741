package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/pkg/logging"
)

func TestPublisher_EnqueueLeadUpsert(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	lead := leads.Lead{Kind: leads.KindQualified, Name: "Asha", Email: "asha@biz.com", Score: 140}
	if err := publisher.EnqueueLeadUpsert(context.Background(), lead); err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	if len(queue.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(queue.sent))
	}

	var payload queuePayload
	if err := json.Unmarshal([]byte(queue.sent[0]), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Kind != jobTypeLeadUpsert {
		t.Fatalf("expected jobType lead_upsert, got %s", payload.Kind)
	}
	if payload.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if payload.Lead.Email != "asha@biz.com" {
		t.Fatalf("expected lead email carried, got %s", payload.Lead.Email)
	}
}

func TestPublisher_EnqueueSalesHandoff(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	lead := leads.Lead{Kind: leads.KindSalesContact, Name: "Ravi", Phone: "+919999"}
	if err := publisher.EnqueueSalesHandoff(context.Background(), lead); err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}

	var payload queuePayload
	if err := json.Unmarshal([]byte(queue.sent[0]), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Kind != jobTypeSalesHandoff {
		t.Fatalf("expected jobType sales_handoff, got %s", payload.Kind)
	}
}

type stubQueue struct {
	sent []string
}

func (s *stubQueue) Send(ctx context.Context, body string) error {
	s.sent = append(s.sent, body)
	return nil
}

func (s *stubQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	return nil, context.Canceled
}

func (s *stubQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}
