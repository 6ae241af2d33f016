package presence

import (
	"context"
	"sync"
	"time"

	"PPoker/tools/errs"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionInfo
	removed  []string
	findErr  error
}

func newFakeStore(sessions ...*SessionInfo) *fakeStore {
	s := &fakeStore{sessions: make(map[string]*SessionInfo)}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}
	return s
}

func (s *fakeStore) FindSession(_ context.Context, id string) (*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errs.ErrSessionNotFound.WrapMsg("find", "sessionId", id)
	}
	cp := *sess
	cp.Participants = append([]string(nil), sess.Participants...)
	return &cp, nil
}

func (s *fakeStore) RemoveParticipant(_ context.Context, sessionID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	for i, p := range sess.Participants {
		if p == userID {
			sess.Participants = append(sess.Participants[:i], sess.Participants[i+1:]...)
			s.removed = append(s.removed, sessionID+"/"+userID)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) participants(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sessions[sessionID].Participants...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []PresenceEvent
	err    error
}

func (r *recordingSink) Publish(_ context.Context, ev PresenceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// stepClock 每次调用前进 1ms，保证订阅时间严格递增
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type harness struct {
	rooms    *RoomIndex
	tracker  *MemoryTracker
	store    *fakeStore
	sink     *recordingSink
	protocol *Protocol
}

func newHarness(sessions ...*SessionInfo) *harness {
	rooms := NewRoomIndex()
	rooms.now = newStepClock().Now
	tracker := NewMemoryTracker()
	store := newFakeStore(sessions...)
	sink := &recordingSink{}
	rec := NewReconciler(rooms, tracker, nil)
	hooks := NewLifecycleHooks(store, sink)
	return &harness{
		rooms:    rooms,
		tracker:  tracker,
		store:    store,
		sink:     sink,
		protocol: NewProtocol(rooms, tracker, rec, store, hooks),
	}
}

func conn(connID, userID, username string) *ConnState {
	return &ConnState{ConnID: connID, Identity: Identity{UserID: userID, Username: username}}
}

func events(outs []Outbound) []string {
	out := make([]string, len(outs))
	for i, o := range outs {
		out[i] = o.Event
	}
	return out
}

func findOut(outs []Outbound, event string) (Outbound, bool) {
	for _, o := range outs {
		if o.Event == event {
			return o, true
		}
	}
	return Outbound{}, false
}
