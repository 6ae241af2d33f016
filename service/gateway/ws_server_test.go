package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"PPoker/service/gateway"
	"PPoker/service/gateway/handlers"
	"PPoker/service/presence"
	"PPoker/tools/errs"
	"PPoker/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jwtOpts = security.DefaultOptions([]byte("test-secret"))

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*presence.SessionInfo
}

func (s *memStore) FindSession(_ context.Context, id string) (*presence.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errs.ErrSessionNotFound.WrapMsg("find", "sessionId", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) RemoveParticipant(context.Context, string, string) (bool, error) {
	return false, nil
}

type harness struct {
	srv      *gateway.Server
	http     *httptest.Server
	registry *presence.MemoryRegistry
	tracker  *presence.MemoryTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memStore{sessions: map[string]*presence.SessionInfo{
		"s1":      {ID: "s1", OwnerID: "u1", Participants: []string{"u1", "u2"}, IsPublic: true},
		"private": {ID: "private", OwnerID: "u1", Participants: []string{"u1"}},
	}}
	rooms := presence.NewRoomIndex()
	tracker := presence.NewMemoryTracker()
	reconciler := presence.NewReconciler(rooms, tracker, nil)
	proto := presence.NewProtocol(rooms, tracker, reconciler, store, presence.NewLifecycleHooks(store, nil))
	registry := presence.NewMemoryRegistry()

	srv := gateway.NewServer(gateway.Options{
		NodeID:        "test",
		Conf:          gateway.ManagerConf{PingInterval: time.Second},
		EvictReplaced: true,
		JWT:           jwtOpts,
		Registry:      registry,
		Protocol:      proto,
		Rooms:         rooms,
	})
	handlers.Register(srv.Disp(), proto)
	srv.Start()

	r := gin.New()
	r.GET("/ws", srv.HandleWS)
	hs := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Stop()
		hs.Close()
	})
	return &harness{srv: srv, http: hs, registry: registry, tracker: tracker}
}

func (h *harness) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws?token=" + token
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *harness) dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	token, _, err := security.Generate(jwtOpts, userID, username)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	readUntil(t, conn, presence.EventSessionParticipantCounts)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

// readUntil 跳过无关帧，直到读到指定事件
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == event {
			return f
		}
	}
}

func TestHandshakeWithoutTokenIsRejected(t *testing.T) {
	h := newHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(h.wsURL("garbage"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, h.registry.Count(context.Background()))
}

func TestConnectSendsWelcome(t *testing.T) {
	h := newHarness(t)
	token, _, err := security.Generate(jwtOpts, "u1", "alice")
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.http.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	f := readUntil(t, conn, presence.EventConnected)
	var p presence.ConnectedPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "alice", p.Username)
	readUntil(t, conn, presence.EventSessionParticipantCounts)
	assert.True(t, h.registry.IsConnected(context.Background(), "alice"))
}

func TestJoinLeaveBroadcasts(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "u1", "alice")
	bob := h.dial(t, "u2", "bob")

	send(t, alice, presence.EventJoinSession, "s1")
	readUntil(t, alice, presence.EventJoinedSession)

	send(t, bob, presence.EventJoinSession, map[string]any{"sessionId": "s1"})
	f := readUntil(t, bob, presence.EventJoinedSession)
	var joined presence.JoinedSessionPayload
	require.NoError(t, json.Unmarshal(f.Data, &joined))
	assert.Equal(t, 2, joined.UserCount)

	f = readUntil(t, alice, presence.EventParticipantsUpdated)
	var upd presence.ParticipantsUpdatedPayload
	require.NoError(t, json.Unmarshal(f.Data, &upd))
	assert.Equal(t, []string{"u1", "u2"}, upd.OnlineUsers)
	readUntil(t, alice, presence.EventUserConnected)

	// bob 断开：alice 收到 userDisconnected，人数回到 1
	require.NoError(t, bob.Close())
	f = readUntil(t, alice, presence.EventUserDisconnected)
	var gone presence.UserPresencePayload
	require.NoError(t, json.Unmarshal(f.Data, &gone))
	assert.Equal(t, "u2", gone.UserID)
	assert.Eventually(t, func() bool { return h.tracker.Count("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	send(t, alice, presence.EventLeaveSession, "s1")
	f = readUntil(t, alice, presence.EventLeftSession)
	var left presence.LeftSessionPayload
	require.NoError(t, json.Unmarshal(f.Data, &left))
	assert.True(t, left.Success)
	assert.Equal(t, 0, h.tracker.Count("s1"))
}

func TestJoinPrivateSessionDenied(t *testing.T) {
	h := newHarness(t)
	bob := h.dial(t, "u2", "bob")

	send(t, bob, presence.EventJoinSession, "private")
	readUntil(t, bob, presence.EventSessionNotAuthorized)
	f := readUntil(t, bob, presence.EventError)
	var e presence.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "Access to this session is denied", e.Message)
	assert.Equal(t, 0, h.tracker.Count("private"))
}

func TestEventErrorsGoToSender(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "u1", "alice")

	send(t, alice, presence.EventVoteUpdate, "s1")
	f := readUntil(t, alice, presence.EventError)
	var e presence.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "connection is not in this session", e.Message)

	send(t, alice, "noSuchEvent", nil)
	f = readUntil(t, alice, presence.EventError)
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Equal(t, "invalid arguments", e.Message)
}

func TestSecondConnectionEvictsFirst(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t, "u1", "alice")
	second := h.dial(t, "u1", "alice")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	send(t, second, presence.EventJoinSession, "s1")
	readUntil(t, second, presence.EventJoinedSession)
	assert.Eventually(t, func() bool { return h.registry.Count(context.Background()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.registry.IsConnected(context.Background(), "alice"))
}
