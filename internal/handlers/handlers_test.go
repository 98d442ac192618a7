package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saashqdev/delightful-im/internal/cache"
	"github.com/saashqdev/delightful-im/internal/handlers"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/middleware"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/routes"
	"github.com/saashqdev/delightful-im/internal/services"
	"github.com/saashqdev/delightful-im/internal/store/memory"
	"github.com/saashqdev/delightful-im/internal/transport"
)

// pushingDispatcher delivers synchronously so tests can observe the socket.
type pushingDispatcher struct {
	mu       sync.Mutex
	hub      *transport.Hub
	messages *memory.MessageStore
}

func (d *pushingDispatcher) DispatchSeqs(ctx context.Context, seqs []*models.Seq, _ models.ConversationType, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range seqs {
		var msg *models.Message
		if s.DelightfulMessageID != "" {
			m, err := d.messages.GetByDelightfulMessageID(ctx, s.DelightfulMessageID)
			if err != nil {
				return err
			}
			msg = m
		}
		view, err := models.NewClientSeqView(s, msg)
		if err != nil {
			return err
		}
		payload, err := transport.EncodeEvent(transport.EventSeq, view)
		if err != nil {
			return err
		}
		d.hub.Deliver(s.ObjectID, payload)
	}
	return nil
}

func (d *pushingDispatcher) DispatchControl(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, _ int, conversationID string) error {
	return d.DispatchSeqs(ctx, seqs, convType, conversationID)
}

type server struct {
	*httptest.Server
	store *memory.Store
	hub   *transport.Hub
}

func newServer(t *testing.T) *server {
	t.Helper()
	ids := idgen.NewSnowflake(1)
	st := memory.NewStore(ids)
	msgs := memory.NewMessageStore()
	hub := transport.NewHub(logger.Discard())
	sc := cache.NewMemoryStreamCache(time.Minute, 100, 0)
	t.Cleanup(sc.Close)

	chat := services.NewChatService(services.ChatDeps{
		Store:       st,
		Messages:    msgs,
		IDs:         ids,
		Dispatcher:  &pushingDispatcher{hub: hub, messages: msgs},
		Locks:       lock.NewMemoryLock(lock.Options{}),
		StreamCache: sc,
		Sink:        hub,
		Logger:      logger.Discard(),
	})
	r := chi.NewRouter()
	routes.SetupRoutes(r, routes.Handlers{
		Messages:    handlers.NewMessageHandler(chat, logger.Discard()),
		Groups:      handlers.NewGroupHandler(services.NewGroupService(st, st.Conversations(), logger.Discard()), logger.Discard()),
		WebSocket:   handlers.NewWebSocketHandler(hub, chat, []string{"http://localhost:3000"}, logger.Discard()),
		SendLimiter: middleware.NewLimiter(100, 100),
	})
	s := &server{Server: httptest.NewServer(r), store: st, hub: hub}
	t.Cleanup(s.Close)
	return s
}

func (s *server) call(t *testing.T, method, path, user string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
		req.Header.Set(middleware.HeaderOrganization, "org")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func sendBody(app, to, text string) map[string]interface{} {
	return map[string]interface{}{
		"app_message_id": app,
		"receive_id":     to,
		"receive_type":   "user",
		"message_type":   "text",
		"content":        map[string]interface{}{"content": text},
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	code, _ := s.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSendAndCheckSent(t *testing.T) {
	s := newServer(t)

	code, body := s.call(t, http.MethodPost, "/api/v1/messages", "alice", sendBody("app-1", "bob", "hi"))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	seq := body["seq"].(map[string]interface{})
	assert.Equal(t, "alice", seq["object_id"])
	assert.Equal(t, "app-1", seq["app_message_id"])

	code, body = s.call(t, http.MethodGet, "/api/v1/messages/sent?app_message_id=app-1", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["sent"])

	code, body = s.call(t, http.MethodGet, "/api/v1/messages/sent?app_message_id=app-1&types=files", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["sent"])
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)

	code, _ := s.call(t, http.MethodPost, "/api/v1/messages", "", sendBody("app-1", "bob", "hi"))
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.call(t, http.MethodPost, "/api/v1/messages", "alice", sendBody("app-1", "bob", ""))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidArgument", body["code"])

	code, body = s.call(t, http.MethodPost, "/api/v1/messages/revoke", "alice", map[string]string{"message_id": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", body["code"])

	code, body = s.call(t, http.MethodPost, "/api/v1/messages/stream", "bot", map[string]interface{}{
		"app_message_id": "nope",
		"status":         "processing",
		"fields":         map[string]interface{}{"content": "x"},
	})
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "StreamNotFound", body["code"])

	code, body = s.call(t, http.MethodPost, "/api/v1/messages", "mallory", map[string]interface{}{
		"receive_id":   "g-unknown",
		"receive_type": "group",
		"message_type": "text",
		"content":      map[string]interface{}{"content": "hi"},
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PermissionDenied", body["code"])
}

func TestStreamStepsFromAnotherCallerAreForbidden(t *testing.T) {
	s := newServer(t)

	start := sendBody("stream-1", "bob", "")
	start["status"] = "start"
	code, body := s.call(t, http.MethodPost, "/api/v1/messages/stream", "alice", start)
	require.Equal(t, http.StatusOK, code, body)

	for _, status := range []string{"processing", "completed"} {
		code, body = s.call(t, http.MethodPost, "/api/v1/messages/stream", "mallory", map[string]interface{}{
			"app_message_id": "stream-1",
			"status":         status,
			"fields":         map[string]interface{}{"content": "injected"},
		})
		assert.Equal(t, http.StatusForbidden, code, status)
		assert.Equal(t, "PermissionDenied", body["code"], status)
	}

	code, _ = s.call(t, http.MethodPost, "/api/v1/messages/stream", "alice", map[string]interface{}{
		"app_message_id": "stream-1",
		"status":         "completed",
		"fields":         map[string]interface{}{"content": "done"},
	})
	assert.Equal(t, http.StatusOK, code)
}

func TestReceiptsRevokeAndEdit(t *testing.T) {
	s := newServer(t)

	code, body := s.call(t, http.MethodPost, "/api/v1/messages", "alice", sendBody("app-1", "bob", "hi"))
	require.Equal(t, http.StatusOK, code)
	seq := body["seq"].(map[string]interface{})
	aliceMessageID := seq["message_id"].(string)

	all, err := s.store.Sequences().ListByDelightfulMessageID(context.Background(), seq["delightful_message_id"].(string))
	require.NoError(t, err)
	var bobMessageID string
	for _, r := range all {
		if r.ObjectID == "bob" {
			bobMessageID = r.MessageID
		}
	}
	require.NotEmpty(t, bobMessageID)

	code, body = s.call(t, http.MethodPost, "/api/v1/messages/read", "bob", map[string]interface{}{"message_ids": []string{bobMessageID}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{bobMessageID}, body["applied"])

	code, body = s.call(t, http.MethodPost, "/api/v1/messages/edit", "alice", map[string]interface{}{
		"message_id":   aliceMessageID,
		"message_type": "text",
		"content":      map[string]interface{}{"content": "hi, edited"},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.NotEmpty(t, body["version_id"])

	code, _ = s.call(t, http.MethodPost, "/api/v1/messages/revoke", "bob", map[string]string{"message_id": bobMessageID})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.call(t, http.MethodPost, "/api/v1/messages/revoke", "alice", map[string]string{"message_id": aliceMessageID})
	assert.Equal(t, http.StatusOK, code)
}

func TestGroupsEndToEnd(t *testing.T) {
	s := newServer(t)

	code, body := s.call(t, http.MethodPost, "/api/v1/groups", "alice", map[string]interface{}{
		"name":    "Launch",
		"members": []map[string]string{{"id": "bob"}, {"id": "carol"}},
	})
	require.Equal(t, http.StatusCreated, code, body)
	groupID := body["group_id"].(string)

	code, _ = s.call(t, http.MethodPost, "/api/v1/groups/"+groupID+"/members", "dave", map[string]interface{}{
		"members": []map[string]string{{"id": "erin"}},
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.call(t, http.MethodPost, "/api/v1/messages", "bob", map[string]interface{}{
		"receive_id":   groupID,
		"receive_type": "group",
		"message_type": "markdown",
		"content":      map[string]interface{}{"content": "**go**"},
	})
	require.Equal(t, http.StatusOK, code, body)
	list := body["seq"].(map[string]interface{})["receive_list"].(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"alice", "carol"}, list["unread_list"])
}

func TestWebSocketReceivesSeqAndAcksReceipts(t *testing.T) {
	s := newServer(t)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?user_id=bob&org=org"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Devices("bob") == 1 }, time.Second, 10*time.Millisecond)

	code, _ := s.call(t, http.MethodPost, "/api/v1/messages", "alice", sendBody("app-1", "bob", "hi"))
	require.Equal(t, http.StatusOK, code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev transport.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, transport.EventSeq, ev.Type)
	var view models.ClientSeqView
	require.NoError(t, json.Unmarshal(ev.Data, &view))
	assert.Equal(t, "bob", view.ObjectID)
	require.NotNil(t, view.Message)
	assert.Contains(t, string(view.Message.Content), `"hi"`)

	require.NoError(t, conn.WriteJSON(handlers.ClientMessage{Type: "seen", MessageIDs: []string{view.MessageID}}))
	// the viewer's own sync seq and the ack may arrive in either order
	gotAck := false
	for i := 0; i < 3 && !gotAck; i++ {
		var next transport.Event
		require.NoError(t, conn.ReadJSON(&next))
		gotAck = next.Type == transport.EventAck
	}
	assert.True(t, gotAck)

	require.NoError(t, conn.WriteJSON(handlers.ClientMessage{Type: "ping"}))
	var pong transport.Event
	for pong.Type != transport.EventPong {
		require.NoError(t, conn.ReadJSON(&pong))
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s := newServer(t)
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws?user_id=bob", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
