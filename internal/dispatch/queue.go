package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/leadsense-ai/platform/internal/leads"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const (
	jobTypeLeadUpsert   jobType = "lead_upsert"
	jobTypeSalesHandoff jobType = "sales_handoff"
)

type queuePayload struct {
	ID   string     `json:"id"`
	Kind jobType    `json:"kind"`
	Lead leads.Lead `json:"lead"`
}

func encodePayload(kind jobType, lead leads.Lead) (queuePayload, string, error) {
	payload := queuePayload{
		ID:   uuid.NewString(),
		Kind: kind,
		Lead: lead,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("dispatch: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
