package salesiq

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/leadsense-ai/platform/internal/flow"
	"github.com/leadsense-ai/platform/internal/observability/metrics"
	"github.com/leadsense-ai/platform/internal/session"
	"github.com/leadsense-ai/platform/pkg/logging"
)

const channelName = "salesiq"

// Engine is the conversation surface the webhook drives.
type Engine interface {
	Advance(ctx context.Context, s *session.Session, utterance string, kind flow.EventKind) (flow.Reply, error)
}

// WebhookHandler serves the SalesIQ webhook endpoint. All operations for a
// conversation id run under a per-id lock so concurrent webhook deliveries
// cannot interleave stage transitions.
type WebhookHandler struct {
	store   session.Store
	locks   *session.Locks
	engine  Engine
	metrics *metrics.ConversationMetrics
	logger  *logging.Logger
}

// NewWebhookHandler wires the webhook surface. metrics may be nil.
func NewWebhookHandler(store session.Store, engine Engine, m *metrics.ConversationMetrics, logger *logging.Logger) *WebhookHandler {
	if store == nil {
		panic("salesiq: store cannot be nil")
	}
	if engine == nil {
		panic("salesiq: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		store:   store,
		locks:   session.NewLocks(),
		engine:  engine,
		metrics: m,
		logger:  logger,
	}
}

// Handle processes one webhook delivery.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency(channelName, time.Since(start).Seconds())
	}()

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("rejecting undecodable webhook body", "error", err)
		h.metrics.ObserveInbound(channelName, "unknown", "bad_request")
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	id := req.sessionID()
	text := req.text()
	kind := req.eventKind()

	release := h.locks.Lock(id)
	defer release()

	ctx := r.Context()

	sess, err := h.store.GetOrCreate(ctx, id)
	if err != nil {
		h.logger.Error("failed to load session", "error", err, "session_id", id)
		h.metrics.ObserveInbound(channelName, string(kind), "error")
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	reply, err := h.engine.Advance(ctx, sess, text, kind)
	if err != nil {
		h.logger.Error("conversation advance failed", "error", err, "session_id", id)
		h.metrics.ObserveInbound(channelName, string(kind), "error")
		http.Error(w, "conversation unavailable", http.StatusInternalServerError)
		return
	}

	if err := h.store.Save(ctx, sess); err != nil {
		// Reply anyway; losing one transition beats dropping the visitor.
		h.logger.Error("failed to persist session", "error", err, "session_id", id)
	}

	h.metrics.ObserveInbound(channelName, string(kind), "ok")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newResponse(reply)); err != nil {
		h.logger.Error("failed to encode webhook reply", "error", err, "session_id", id)
	}
}
