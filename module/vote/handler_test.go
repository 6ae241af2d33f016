package vote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPoker/middleware"
	"PPoker/middleware/security"
	"PPoker/module/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type roomEvent struct {
	room  string
	event string
}

type recNotifier struct {
	gotRoom []roomEvent
}

func (n *recNotifier) Global(context.Context, string, any) {}

func (n *recNotifier) Room(_ context.Context, sid, event string, _ any) {
	n.gotRoom = append(n.gotRoom, roomEvent{sid, event})
}

func (n *recNotifier) CloseRoom(context.Context, string) []string { return nil }

func fakeAuth(c *gin.Context) {
	c.Set(security.CtxUserID, c.GetHeader("X-User"))
	c.Set(security.CtxUsername, c.GetHeader("X-Name"))
	c.Next()
}

type fixture struct {
	r        *gin.Engine
	votes    *MemoryStore
	sessions *session.MemoryStore
	notify   *recNotifier
	sid      string
}

func newFixture(t *testing.T, public bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		r:        gin.New(),
		votes:    NewMemoryStore(),
		sessions: session.NewMemoryStore(),
		notify:   &recNotifier{},
	}
	s := &session.Session{
		Name:      "s",
		IsPublic:  public,
		CreatedBy: session.Member{UserID: "u1", Username: "alice"},
		Participants: []session.Member{
			{UserID: "u1", Username: "alice"},
			{UserID: "u2", Username: "bob"},
		},
	}
	require.NoError(t, f.sessions.Create(context.Background(), s))
	f.sid = s.IDHex()
	NewHandler(f.votes, f.sessions, f.notify).Register(f.r.Group("/api"), middleware.RouteOpt{Auth: fakeAuth})
	return f
}

func (f *fixture) do(method, path, uid string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", uid)
	req.Header.Set("X-Name", map[string]string{"u1": "alice", "u2": "bob", "u3": "carol"}[uid])
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func TestSubmitRules(t *testing.T) {
	f := newFixture(t, true)
	base := "/api/votes/" + f.sid

	w := f.do(http.MethodPost, base, "u2", gin.H{"value": "4"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, base, "u3", gin.H{"value": "5"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/api/votes/missing", "u2", gin.H{"value": "5"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base, "u2", gin.H{"value": "5"}).Code)
	// 同一轮再投覆盖
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base, "u2", gin.H{"value": "8"}).Code)
	votes, _ := f.votes.ListRound(context.Background(), f.sid, 1)
	require.Len(t, votes, 1)
	assert.Equal(t, "8", votes[0].Value)
	assert.Equal(t, roomEvent{f.sid, EventVoteSubmitted}, f.notify.gotRoom[0])
}

func TestHiddenUntilRevealed(t *testing.T) {
	f := newFixture(t, true)
	base := "/api/votes/" + f.sid
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base, "u1", gin.H{"value": "3"}).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base, "u2", gin.H{"value": "5"}).Code)

	var hidden struct {
		Votes    []map[string]any `json:"votes"`
		Revealed bool             `json:"revealed"`
	}
	w := f.do(http.MethodGet, base, "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hidden))
	assert.False(t, hidden.Revealed)
	require.Len(t, hidden.Votes, 2)
	for _, v := range hidden.Votes {
		assert.NotContains(t, v, "value")
		assert.Equal(t, true, v["hasVoted"])
	}

	// 只有 owner 能揭晓
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, base+"/reveal", "u2", nil).Code)

	var revealed struct {
		Votes []Vote `json:"votes"`
		Stats Stats  `json:"stats"`
	}
	w = f.do(http.MethodPost, base+"/reveal", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revealed))
	assert.Len(t, revealed.Votes, 2)
	assert.Equal(t, 2, revealed.Stats.TotalVotes)
	require.NotNil(t, revealed.Stats.Average)
	assert.Equal(t, 4.0, *revealed.Stats.Average)

	// 揭晓后不能再投
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, base, "u2", gin.H{"value": "1"}).Code)

	w = f.do(http.MethodGet, base, "u2", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hidden))
	assert.True(t, hidden.Revealed)
	assert.Equal(t, "3", hidden.Votes[0]["value"])
}

func TestReset(t *testing.T) {
	f := newFixture(t, true)
	base := "/api/votes/" + f.sid
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base, "u2", gin.H{"value": "5"}).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base+"/reveal", "u1", nil).Code)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, base+"/reset", "u2", nil).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, base+"/reset", "u1", nil).Code)

	votes, _ := f.votes.ListRound(context.Background(), f.sid, 1)
	assert.Empty(t, votes)
	sess, _ := f.sessions.Get(context.Background(), f.sid)
	assert.False(t, sess.VotesRevealed)
	assert.Equal(t, EventVotesReset, f.notify.gotRoom[len(f.notify.gotRoom)-1].event)

	// 重置后可以重新投
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, base, "u2", gin.H{"value": "13"}).Code)
}

func TestListPrivateDenied(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/votes/"+f.sid, "u3", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/votes/"+f.sid, "u2", nil).Code)
}

func TestBookSnapshotAndDelete(t *testing.T) {
	store := NewMemoryStore()
	book := NewBook(store)
	ctx := context.Background()
	sess := &session.Session{ID: primitive.NewObjectID(), CurrentRound: 1}
	sid := sess.IDHex()
	_, _ = store.Upsert(ctx, &Vote{SessionID: sid, UserID: "u1", Value: "5", Round: 1})
	_, _ = store.Upsert(ctx, &Vote{SessionID: sid, UserID: "u2", Value: "8", Round: 2})

	got, err := book.Snapshot(ctx, sess)
	require.NoError(t, err)
	require.IsType(t, []Hidden{}, got)
	assert.Len(t, got.([]Hidden), 1)

	sess.VotesRevealed = true
	got, err = book.Snapshot(ctx, sess)
	require.NoError(t, err)
	assert.IsType(t, []*Vote{}, got)

	require.NoError(t, book.DeleteSession(ctx, sid))
	left, _ := store.ListRound(ctx, sid, 2)
	assert.Empty(t, left)
}
