package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPoker/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore 单进程存储，没配 mongo 时使用
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Session
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Session), now: time.Now}
}

func clone(s *Session) *Session {
	cp := *s
	cp.Participants = append([]Member(nil), s.Participants...)
	if s.CurrentTicket != nil {
		t := *s.CurrentTicket
		cp.CurrentTicket = &t
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	s.CreatedAt, s.UpdatedAt = now, now
	if s.CurrentRound <= 0 {
		s.CurrentRound = 1
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if s.Participants == nil {
		s.Participants = []Member{}
	}
	m.data[s.IDHex()] = clone(s)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.data[id]
	if !ok {
		return nil, errs.ErrSessionNotFound.WrapMsg("get", "sessionId", id)
	}
	return clone(s), nil
}

func (m *MemoryStore) ListVisible(_ context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.data))
	for _, s := range m.data {
		if s.IsPublic || s.IsOwner(userID) {
			out = append(out, clone(s))
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) AddParticipant(_ context.Context, id string, mem Member) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return nil, errs.ErrSessionNotFound.WrapMsg("add participant", "sessionId", id)
	}
	if !s.IsParticipant(mem.UserID) {
		s.Participants = append(s.Participants, mem)
		s.UpdatedAt = m.now()
	}
	return clone(s), nil
}

func (m *MemoryStore) RemoveParticipant(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return false, errs.ErrSessionNotFound.WrapMsg("remove participant", "sessionId", id)
	}
	for i, p := range s.Participants {
		if p.UserID == userID {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			s.UpdatedAt = m.now()
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateTicket(_ context.Context, id string, t Ticket) error {
	return m.update(id, func(s *Session) { s.CurrentTicket = &t })
}

func (m *MemoryStore) SetVotesRevealed(_ context.Context, id string, revealed bool) error {
	return m.update(id, func(s *Session) { s.VotesRevealed = revealed })
}

func (m *MemoryStore) update(id string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return errs.ErrSessionNotFound.WrapMsg("update", "sessionId", id)
	}
	fn(s)
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return errs.ErrSessionNotFound.WrapMsg("delete", "sessionId", id)
	}
	delete(m.data, id)
	return nil
}
