package salesiq

import (
	"strings"

	"github.com/leadsense-ai/platform/internal/flow"
)

// SalesIQ posts two body shapes depending on the widget event: a flat one
// with visitor/message at the top level, and a nested one under "request".
// Both are accepted.

type visitor struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

type webhookRequest struct {
	Handler string   `json:"handler"`
	Visitor *visitor `json:"visitor"`
	Message *message `json:"message"`
	Request *struct {
		Visitor *visitor `json:"visitor"`
		Message *message `json:"message"`
	} `json:"request"`
}

// fallbackSessionID keys conversations that arrive without a visitor id.
const fallbackSessionID = "default"

func (r *webhookRequest) sessionID() string {
	if r.Visitor != nil && r.Visitor.ID != "" {
		return r.Visitor.ID
	}
	if r.Request != nil && r.Request.Visitor != nil && r.Request.Visitor.ID != "" {
		return r.Request.Visitor.ID
	}
	return fallbackSessionID
}

func (r *webhookRequest) text() string {
	if r.Message != nil && r.Message.Text != "" {
		return strings.TrimSpace(r.Message.Text)
	}
	if r.Request != nil && r.Request.Message != nil && r.Request.Message.Text != "" {
		return strings.TrimSpace(r.Request.Message.Text)
	}
	return ""
}

func (r *webhookRequest) eventKind() flow.EventKind {
	if r.Handler == "trigger" {
		return flow.EventTrigger
	}
	return flow.EventMessage
}

// webhookResponse is the reply envelope the SalesIQ widget renders.
type webhookResponse struct {
	Action      string   `json:"action"`
	Replies     []string `json:"replies"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func newResponse(reply flow.Reply) webhookResponse {
	return webhookResponse{
		Action:      "reply",
		Replies:     reply.Messages,
		Suggestions: reply.Suggestions,
	}
}
