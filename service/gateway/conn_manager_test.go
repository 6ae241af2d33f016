package gateway

import (
	"testing"
	"time"

	"PPoker/service/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(now *time.Time) *ConnManager {
	return NewConnManager(ManagerConf{
		SendQueueSize: 2,
		IdleTTL:       time.Minute,
		Clock:         func() time.Time { return *now },
	}, "gw-test", nil)
}

func addConn(t *testing.T, m *ConnManager, snowID, userID string) *WsConn {
	t.Helper()
	w := NewWsConn(snowID, presence.Identity{UserID: userID, Username: "name-" + userID}, nil, m.Conf().SendQueueSize, m.Conf().Clock())
	require.NoError(t, m.Add(w))
	return w
}

func TestConnManagerAddRemove(t *testing.T) {
	now := time.Unix(1000, 0)
	m := newTestManager(&now)

	addConn(t, m, "c1", "u1")
	addConn(t, m, "c2", "u1")
	assert.Error(t, m.Add(NewWsConn("c1", presence.Identity{UserID: "u9"}, nil, 1, now)))
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, "gw-test", m.GwId())

	m.Remove("c1")
	m.Remove("c1")
	_, ok := m.Get("c1")
	assert.False(t, ok)
	_, ok = m.Get("c2")
	assert.True(t, ok)
	m.Remove("c2")
	assert.Equal(t, 0, m.Count())
}

func TestSendToGoneConnection(t *testing.T) {
	now := time.Unix(1000, 0)
	m := newTestManager(&now)

	assert.ErrorIs(t, m.SendTo("missing", []byte("x")), ErrConnGone)

	w := addConn(t, m, "c1", "u1")
	w.Close()
	w.Close()
	assert.ErrorIs(t, m.SendTo("c1", []byte("x")), ErrConnGone)
}

func TestSendQueueFullClosesConnection(t *testing.T) {
	now := time.Unix(1000, 0)
	m := newTestManager(&now)
	w := addConn(t, m, "c1", "u1")

	require.NoError(t, m.SendTo("c1", []byte("1")))
	require.NoError(t, m.SendTo("c1", []byte("2")))
	assert.ErrorIs(t, m.SendTo("c1", []byte("3")), errSlowConsumer)
	assert.Len(t, w.SendChan, 2)

	// 队列满直接关连接，之后的投递都是 ErrConnGone
	select {
	case <-w.Done():
	default:
		t.Fatal("slow connection not closed")
	}
	assert.ErrorIs(t, m.SendTo("c1", []byte("4")), ErrConnGone)
	assert.Equal(t, 0, m.BroadcastLocal([]byte("5")))
}

func TestBroadcastRoomSkipsExcluded(t *testing.T) {
	now := time.Unix(1000, 0)
	m := newTestManager(&now)
	a := addConn(t, m, "a", "u1")
	b := addConn(t, m, "b", "u2")
	c := addConn(t, m, "c", "u3")

	room := presence.RoomName("s1")
	m.Rooms().Subscribe(room, presence.Subscription{ConnID: "a", Identity: a.Identity()})
	m.Rooms().Subscribe(room, presence.Subscription{ConnID: "b", Identity: b.Identity()})
	// 房间里有但本实例已经没有的连接会被跳过
	m.Rooms().Subscribe(room, presence.Subscription{ConnID: "ghost", Identity: presence.Identity{UserID: "u4"}})

	n := m.BroadcastRoom(room, "a", []byte("hi"))
	assert.Equal(t, 1, n)
	assert.Len(t, a.SendChan, 0)
	assert.Len(t, b.SendChan, 1)
	assert.Len(t, c.SendChan, 0)

	assert.Equal(t, 3, m.BroadcastLocal([]byte("all")))
	assert.Len(t, c.SendChan, 1)
}

func TestSweepClosesIdleConnections(t *testing.T) {
	now := time.Unix(1000, 0)
	m := newTestManager(&now)
	idle := addConn(t, m, "idle", "u1")
	addConn(t, m, "busy", "u2")

	now = now.Add(50 * time.Second)
	m.Heartbeat("busy")
	now = now.Add(20 * time.Second)

	assert.Equal(t, []string{"idle"}, m.sweepOnce(now))
	select {
	case <-idle.Done():
	default:
		t.Fatal("idle connection not closed")
	}
	// 索引由读协程退出时清理
	assert.Equal(t, 2, m.Count())
}

func TestCloseClosesAll(t *testing.T) {
	now := time.Unix(1000, 0)
	m := newTestManager(&now)
	a := addConn(t, m, "a", "u1")
	m.Close()
	m.Close()
	_, open := <-a.Done()
	assert.False(t, open)
}
