package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/leadsense-ai/platform/internal/flow"
	"github.com/leadsense-ai/platform/internal/session"
	"github.com/leadsense-ai/platform/pkg/logging"
)

func newTestHandler(t *testing.T) (*Handler, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(store.Close)
	engine := flow.NewEngine(flow.Config{OTPDelivery: flow.OTPDeliveryInline, LeadSource: "webchat"}, nil, nil, nil, nil, logging.New("error"))
	return NewHandler(store, engine, nil, logging.New("error")), store
}

func TestConversationID(t *testing.T) {
	assert.Equal(t, "webchat:sess456", ConversationID("sess456"))
}

func TestGenerateSessionID(t *testing.T) {
	s1 := generateSessionID()
	s2 := generateSessionID()
	assert.NotEmpty(t, s1)
	assert.NotEqual(t, s1, s2)
	assert.Len(t, s1, 32) // 16 bytes = 32 hex chars
}

func TestHandleMessage_HTTP(t *testing.T) {
	h, store := newTestHandler(t)

	body := `{"session_id":"sess1","text":"Hello"}`
	req := httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleMessage(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID   string   `json:"session_id"`
		Replies     []string `json:"replies"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sess1", resp.SessionID)
	require.NotEmpty(t, resp.Replies)
	// a first message greets and offers the menu
	assert.Len(t, resp.Suggestions, 3)

	sess, err := store.GetOrCreate(context.Background(), "webchat:sess1")
	require.NoError(t, err)
	assert.Equal(t, session.StageMainMenu, sess.Stage)
}

func TestHandleMessage_MissingText(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"session_id":"sess1","text":""}`
	req := httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleMessage(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMessage_GeneratesSessionID(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"text":"Hi"}`
	req := httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleMessage(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["session_id"])
}

func TestHandleMessage_AdvancesFlow(t *testing.T) {
	h, store := newTestHandler(t)

	say := func(text string) {
		body, _ := json.Marshal(map[string]string{"session_id": "sess2", "text": text})
		req := httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(string(body)))
		w := httptest.NewRecorder()
		h.HandleMessage(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	say("hello")
	say("Qualify Me")

	sess, err := store.GetOrCreate(context.Background(), "webchat:sess2")
	require.NoError(t, err)
	assert.Equal(t, session.StageQualifyName, sess.Stage)
}

func TestHandleMessage_MalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader("{oops"))
	w := httptest.NewRecorder()

	h.HandleMessage(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketGreetsOnConnect(t *testing.T) {
	h, store := newTestHandler(t)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	// exercise the socket path via the standard client in x/net/websocket
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=wsess"
	conn, err := dialWS(url, srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var sessionMsg OutboundMessage
	require.NoError(t, receiveJSON(conn, &sessionMsg))
	assert.Equal(t, "session", sessionMsg.Type)
	assert.Equal(t, "wsess", sessionMsg.SessionID)

	var greeting OutboundMessage
	require.NoError(t, receiveJSON(conn, &greeting))
	assert.Equal(t, "message", greeting.Type)
	assert.NotEmpty(t, greeting.Text)

	sess, err := store.GetOrCreate(context.Background(), "webchat:wsess")
	require.NoError(t, err)
	assert.Equal(t, session.StageMainMenu, sess.Stage)
}

func dialWS(url, origin string) (*websocket.Conn, error) {
	return websocket.Dial(url, "", origin)
}

func receiveJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return websocket.JSON.Receive(conn, v)
}
