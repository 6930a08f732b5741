package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/leadsense-ai/platform/internal/flow"
	"github.com/leadsense-ai/platform/internal/observability/metrics"
	"github.com/leadsense-ai/platform/internal/session"
	"github.com/leadsense-ai/platform/pkg/logging"
)

const channelName = "webchat"

// Engine is the conversation surface the widget drives.
type Engine interface {
	Advance(ctx context.Context, s *session.Session, utterance string, kind flow.EventKind) (flow.Reply, error)
}

// Handler serves the embedded chat widget over WebSocket with an HTTP
// fallback. Both paths drive the same engine synchronously.
type Handler struct {
	store   session.Store
	locks   *session.Locks
	engine  Engine
	metrics *metrics.ConversationMetrics
	logger  *logging.Logger
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type      string `json:"type"` // "message", "ping"
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type        string   `json:"type"` // "message", "session", "pong", "error"
	Text        string   `json:"text,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

// NewHandler creates a web chat handler. metrics may be nil.
func NewHandler(store session.Store, engine Engine, m *metrics.ConversationMetrics, logger *logging.Logger) *Handler {
	if store == nil {
		panic("webchat: store cannot be nil")
	}
	if engine == nil {
		panic("webchat: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:   store,
		locks:   session.NewLocks(),
		engine:  engine,
		metrics: m,
		logger:  logger,
	}
}

// ConversationID builds the canonical session key for a widget session, so
// webchat visitors never collide with SalesIQ visitor ids.
func ConversationID(sessionID string) string {
	return "webchat:" + sessionID
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	h.logger.Info("webchat: connection opened", "session_id", sessionID)

	// Greet a fresh connection the same way a widget trigger would.
	reply, err := h.advance(r.Context(), sessionID, "", flow.EventTrigger)
	if err == nil {
		h.send(conn, reply)
	}

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "session_id", sessionID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}

		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		reply, err := h.advance(r.Context(), sessionID, msg.Text, flow.EventMessage)
		if err != nil {
			_ = websocket.JSON.Send(conn, OutboundMessage{
				Type: "error",
				Text: "Sorry, something went wrong. Please try again.",
			})
			continue
		}
		h.send(conn, reply)
	}
}

func (h *Handler) send(conn *websocket.Conn, reply flow.Reply) {
	for i, text := range reply.Messages {
		out := OutboundMessage{Type: "message", Text: text}
		if i == len(reply.Messages)-1 {
			out.Suggestions = reply.Suggestions
		}
		_ = websocket.JSON.Send(conn, out)
	}
}

// advance runs one engine step under the per-session lock and persists the
// result.
func (h *Handler) advance(ctx context.Context, sessionID, text string, kind flow.EventKind) (flow.Reply, error) {
	id := ConversationID(sessionID)

	release := h.locks.Lock(id)
	defer release()

	sess, err := h.store.GetOrCreate(ctx, id)
	if err != nil {
		h.logger.Error("webchat: failed to load session", "error", err, "session_id", id)
		h.metrics.ObserveInbound(channelName, string(kind), "error")
		return flow.Reply{}, err
	}

	reply, err := h.engine.Advance(ctx, sess, text, kind)
	if err != nil {
		h.logger.Error("webchat: advance failed", "error", err, "session_id", id)
		h.metrics.ObserveInbound(channelName, string(kind), "error")
		return flow.Reply{}, err
	}

	if err := h.store.Save(ctx, sess); err != nil {
		h.logger.Error("webchat: failed to persist session", "error", err, "session_id", id)
	}

	h.metrics.ObserveInbound(channelName, string(kind), "ok")
	return reply, nil
}

// HandleMessage is the HTTP fallback for widgets that cannot hold a socket.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	reply, err := h.advance(r.Context(), req.SessionID, req.Text, flow.EventMessage)
	if err != nil {
		http.Error(w, "conversation unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id":  req.SessionID,
		"replies":     reply.Messages,
		"suggestions": reply.Suggestions,
	})
}
