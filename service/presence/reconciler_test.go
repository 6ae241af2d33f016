package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectedUsersDedupe(t *testing.T) {
	rooms := NewRoomIndex()
	rooms.now = newStepClock().Now
	rec := NewReconciler(rooms, NewMemoryTracker(), nil)
	room := RoomName("s1")

	rooms.Subscribe(room, Subscription{ConnID: "a1", Identity: Identity{UserID: "ua", Username: "alice"}})
	rooms.Subscribe(room, Subscription{ConnID: "b1", Identity: Identity{UserID: "ub", Username: "bob"}})
	rooms.Subscribe(room, Subscription{ConnID: "a2", Identity: Identity{UserID: "ua", Username: "alice2"}})
	// 没有身份的连接不算
	rooms.Subscribe(room, Subscription{ConnID: "x"})

	users := rec.ConnectedUsers("s1")
	require.Len(t, users, 2)
	// 顺序按身份的首次订阅，展示字段取最近一次
	assert.Equal(t, ConnectedUser{UserID: "ua", Username: "alice2", SocketID: "a2"}, users[0])
	assert.Equal(t, ConnectedUser{UserID: "ub", Username: "bob", SocketID: "b1"}, users[1])
}

func TestReconcileReplacesCache(t *testing.T) {
	rooms := NewRoomIndex()
	tracker := NewMemoryTracker()
	rec := NewReconciler(rooms, tracker, nil)

	// 缓存里有幽灵成员
	tracker.Add("s1", "ghost")
	rooms.Subscribe(RoomName("s1"), Subscription{ConnID: "c1", Identity: Identity{UserID: "u1", Username: "a"}})

	snap := rec.Reconcile("s1")
	assert.Equal(t, []string{"u1"}, snap.UserIDs())
	assert.Equal(t, []string{"u1"}, tracker.Members("s1"))

	rooms.Unsubscribe(RoomName("s1"), "c1")
	snap = rec.Reconcile("s1")
	assert.Equal(t, 0, snap.Count())
	_, ok := tracker.AllCounts()["s1"]
	assert.False(t, ok)
}

// 任意顺序的加入/离开/重复断开之后，reconcile 的结果等于房间里剩下的身份，且重复调用结果不变
func TestReconcileConvergence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []Identity{
		{UserID: "u1", Username: "a"},
		{UserID: "u2", Username: "b"},
		{UserID: "u3", Username: "c"},
	}
	conns := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	owner := map[string]Identity{}
	for i, c := range conns {
		owner[c] = users[i%len(users)]
	}

	for trial := 0; trial < 50; trial++ {
		rooms := NewRoomIndex()
		tracker := NewMemoryTracker()
		rec := NewReconciler(rooms, tracker, nil)
		room := RoomName("s1")

		for step := 0; step < 40; step++ {
			c := conns[rng.Intn(len(conns))]
			switch rng.Intn(4) {
			case 0, 1:
				rooms.Subscribe(room, Subscription{ConnID: c, Identity: owner[c]})
				tracker.Add("s1", owner[c].UserID)
			case 2:
				rooms.Unsubscribe(room, c)
				tracker.Remove("s1", owner[c].UserID)
			case 3:
				// 重复或乱序的断开信号，缓存可能被错误地减掉
				rooms.Unsubscribe(room, c)
				rooms.Unsubscribe(room, c)
				tracker.Remove("s1", users[rng.Intn(len(users))].UserID)
			}
			if rng.Intn(3) == 0 {
				rec.Reconcile("s1")
			}
		}

		want := map[string]struct{}{}
		for _, s := range rooms.RoomMembers(room) {
			want[s.Identity.UserID] = struct{}{}
		}
		var wantIDs []string
		for id := range want {
			wantIDs = append(wantIDs, id)
		}
		sort.Strings(wantIDs)

		first := rec.Reconcile("s1")
		second := rec.Reconcile("s1")
		got := first.UserIDs()
		sort.Strings(got)

		assert.Equal(t, len(wantIDs), first.Count())
		if len(wantIDs) > 0 {
			assert.Equal(t, wantIDs, got)
		}
		assert.Equal(t, first, second)
		assert.Equal(t, len(wantIDs), tracker.Count("s1"))
		if len(wantIDs) == 0 {
			assert.NotContains(t, tracker.AllCounts(), "s1")
		}
	}
}

func TestConcurrentJoinsConvergeCache(t *testing.T) {
	for round := 0; round < 20; round++ {
		rooms := NewRoomIndex()
		tracker := NewMemoryTracker()
		rec := NewReconciler(rooms, tracker, nil)
		room := RoomName("s1")

		const n = 16
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("u%d", i)
				rooms.Subscribe(room, Subscription{ConnID: "c" + id, Identity: Identity{UserID: id, Username: id}})
				rec.Reconcile("s1")
			}(i)
		}
		wg.Wait()

		// 最后一次 reconcile 一定看到了所有订阅
		require.Equal(t, n, tracker.Count("s1"), "round %d", round)
		assert.Equal(t, n, tracker.AllCounts()["s1"])
	}
}
