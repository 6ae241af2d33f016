package presence

import (
	"sort"
	"sync"
)

// MembershipTracker session -> 在线成员的缓存。真相在房间订阅里，只有 Reconciler 调 Replace。
type MembershipTracker interface {
	Add(sessionID, userID string)
	Remove(sessionID, userID string)
	Replace(sessionID string, userIDs []string) (changed bool)
	Count(sessionID string) int
	AllCounts() map[string]int
	Members(sessionID string) []string
}

type MemoryTracker struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{sessions: make(map[string]map[string]struct{})}
}

func (t *MemoryTracker) Add(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.sessions[sessionID]
	if !ok {
		set = make(map[string]struct{})
		t.sessions[sessionID] = set
	}
	set[userID] = struct{}{}
}

// Remove 删掉最后一个成员时整条 session 一起删，不留空集合
func (t *MemoryTracker) Remove(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.sessions, sessionID)
	}
}

// Replace 覆盖写；返回缓存是否与新值不同（用于统计漂移）
func (t *MemoryTracker) Replace(sessionID string, userIDs []string) bool {
	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	changed := !sameSet(t.sessions[sessionID], next)
	if len(next) == 0 {
		delete(t.sessions, sessionID)
	} else {
		t.sessions[sessionID] = next
	}
	return changed
}

func (t *MemoryTracker) Count(sessionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions[sessionID])
}

func (t *MemoryTracker) AllCounts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.sessions))
	for id, set := range t.sessions {
		out[id] = len(set)
	}
	return out
}

func (t *MemoryTracker) Members(sessionID string) []string {
	t.mu.RLock()
	set := t.sessions[sessionID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
