package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"PPoker/middleware"
	mwsec "PPoker/middleware/security"
	"PPoker/service/presence"
	"PPoker/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (m *memAudit) Record(_ context.Context, e AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) Recent(_ context.Context, username string, _ int) ([]AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEvent
	for _, e := range m.events {
		if e.Username == username {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	r        *gin.Engine
	registry *presence.MemoryRegistry
	audit    *memAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwt := security.DefaultOptions([]byte("test-secret"))
	f := &fixture{
		r:        gin.New(),
		registry: presence.NewMemoryRegistry(),
		audit:    &memAudit{},
	}
	h := NewHandler(NewMemoryStore(), Options{
		JWT:      jwt,
		Registry: f.registry,
		Audit:    f.audit,
	})
	auth := middleware.RouteOpt{Auth: mwsec.Middleware(mwsec.DefaultOptions(jwt))}
	h.Register(f.r.Group("/api"), auth)
	return f
}

func (f *fixture) post(path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func tokenCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	t.Fatalf("no token cookie in response")
	return nil
}

func TestSignUpValidation(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/auth/register", gin.H{"username": "ab", "password": "secret1"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/auth/register", gin.H{"username": "alice", "password": "123"}).Code)

	w := f.post("/api/auth/register", gin.H{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	c := tokenCookie(t, w)
	assert.True(t, c.HttpOnly)
	assert.NotContains(t, w.Body.String(), "password")

	assert.Equal(t, http.StatusConflict, f.post("/api/auth/register", gin.H{"username": "alice", "password": "secret1"}).Code)
}

func TestLoginBadCredentials(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.post("/api/auth/register", gin.H{"username": "alice", "password": "secret1"}).Code)

	assert.Equal(t, http.StatusUnauthorized, f.post("/api/auth/login", gin.H{"username": "alice", "password": "wrong!!"}).Code)
	assert.Equal(t, http.StatusUnauthorized, f.post("/api/auth/login", gin.H{"username": "nobody", "password": "secret1"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/auth/login", gin.H{"username": "alice"}).Code)
	assert.Equal(t, 0, f.registry.Count(context.Background()))
}

func TestDoubleLoginConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, http.StatusCreated, f.post("/api/auth/register", gin.H{"username": "alice", "password": "secret1"}).Code)

	w := f.post("/api/auth/login", gin.H{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := tokenCookie(t, w)
	entry, ok := f.registry.Info(ctx, "alice")
	require.True(t, ok)

	w = f.post("/api/auth/login", gin.H{"username": "alice", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, w.Result().Cookies())

	// 第一次登录不受影响
	again, ok := f.registry.Info(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, entry.LoginTime, again.LoginTime)
	assert.Equal(t, http.StatusOK, f.get("/api/auth/me", first).Code)
	assert.Equal(t, []string{ActionLogin, ActionConflict}, f.audit.actions())

	// 登出后可以重新登录
	require.Equal(t, http.StatusOK, f.post("/api/auth/logout", nil, first).Code)
	assert.False(t, f.registry.IsConnected(ctx, "alice"))
	assert.Equal(t, http.StatusOK, f.post("/api/auth/login", gin.H{"username": "alice", "password": "secret1"}).Code)
}

func TestMeAndStats(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.get("/api/auth/me").Code)

	require.Equal(t, http.StatusCreated, f.post("/api/auth/register", gin.H{"username": "alice", "password": "secret1"}).Code)
	w := f.post("/api/auth/login", gin.H{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	c := tokenCookie(t, w)

	var me struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	w = f.get("/api/auth/me", c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.User.Username)
	assert.NotEmpty(t, me.User.ID)

	var st presence.Stats
	w = f.get("/api/auth/connections/stats", c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.TotalConnections)
	assert.Equal(t, 0, st.ConnectionsWithSocket)

	var audit struct {
		Events []AuditEvent `json:"events"`
	}
	w = f.get("/api/auth/audit", c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audit))
	require.Len(t, audit.Events, 1)
	assert.Equal(t, ActionLogin, audit.Events[0].Action)
}
