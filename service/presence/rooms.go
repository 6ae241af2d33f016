package presence

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const roomPrefix = "session-"

func RoomName(sessionID string) string { return roomPrefix + sessionID }

// SessionIDFromRoom 非 session 房间返回 false
func SessionIDFromRoom(room string) (string, bool) {
	if !strings.HasPrefix(room, roomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(room, roomPrefix), true
}

// RoomSource 传输层房间订阅的只读视图，Reconciler 只依赖它
type RoomSource interface {
	RoomMembers(room string) []Subscription
}

// Rooms 协议对房间的全部操作；Subscribe 返回时订阅已生效
type Rooms interface {
	RoomSource
	Subscribe(room string, sub Subscription)
	Unsubscribe(room, connID string) bool
	IsSubscribed(room, connID string) bool
}

// RoomIndex 与具体传输无关的房间订阅表
type RoomIndex struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Subscription // room -> connID -> sub
	byConn map[string]map[string]struct{}     // connID -> rooms
	now    func() time.Time
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms:  make(map[string]map[string]Subscription),
		byConn: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// Subscribe 重复订阅保留最早的订阅时间
func (x *RoomIndex) Subscribe(room string, sub Subscription) {
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = x.now()
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	members, ok := x.rooms[room]
	if !ok {
		members = make(map[string]Subscription)
		x.rooms[room] = members
	}
	if old, ok := members[sub.ConnID]; ok {
		sub.SubscribedAt = old.SubscribedAt
	}
	members[sub.ConnID] = sub

	rs, ok := x.byConn[sub.ConnID]
	if !ok {
		rs = make(map[string]struct{})
		x.byConn[sub.ConnID] = rs
	}
	rs[room] = struct{}{}
}

func (x *RoomIndex) Unsubscribe(room, connID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.unsubscribeLocked(room, connID)
}

func (x *RoomIndex) unsubscribeLocked(room, connID string) bool {
	members, ok := x.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(x.rooms, room)
	}
	if rs, ok := x.byConn[connID]; ok {
		delete(rs, room)
		if len(rs) == 0 {
			delete(x.byConn, connID)
		}
	}
	return true
}

func (x *RoomIndex) IsSubscribed(room, connID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.rooms[room][connID]
	return ok
}

// UnsubscribeAll 连接断开时调用，返回它所在的房间
func (x *RoomIndex) UnsubscribeAll(connID string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	var left []string
	for room := range x.byConn[connID] {
		left = append(left, room)
	}
	for _, room := range left {
		x.unsubscribeLocked(room, connID)
	}
	sort.Strings(left)
	return left
}

// RoomMembers 按订阅时间排序的快照
func (x *RoomIndex) RoomMembers(room string) []Subscription {
	x.mu.RLock()
	members := x.rooms[room]
	out := make([]Subscription, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	x.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].SubscribedAt.Before(out[j].SubscribedAt)
	})
	return out
}

func (x *RoomIndex) RoomsOf(connID string) []string {
	x.mu.RLock()
	out := make([]string, 0, len(x.byConn[connID]))
	for room := range x.byConn[connID] {
		out = append(out, room)
	}
	x.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (x *RoomIndex) ConnIDs(room string) []string {
	subs := x.RoomMembers(room)
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.ConnID
	}
	return out
}

// Len 有订阅的房间数
func (x *RoomIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rooms)
}
