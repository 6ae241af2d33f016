package presence

import (
	"context"
	"time"

	"PPoker/logger"

	"go.uber.org/zap"
)

// SessionInfo 持久化 session 里协议关心的字段
type SessionInfo struct {
	ID           string
	OwnerID      string
	Participants []string
	IsPublic     bool
}

func (s *SessionInfo) IsOwner(userID string) bool { return s.OwnerID == userID }

func (s *SessionInfo) IsParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// CanAccess 公开 session、创建者或已有参与者
func (s *SessionInfo) CanAccess(userID string) bool {
	return s.IsPublic || s.IsOwner(userID) || s.IsParticipant(userID)
}

// SessionStore 持久化 session 存储；找不到时返回 errs.ErrSessionNotFound
type SessionStore interface {
	FindSession(ctx context.Context, id string) (*SessionInfo, error)
	RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error)
}

// ===== 在线状态事件 =====

const (
	TransitionJoined       = "joined"
	TransitionLeft         = "left"
	TransitionDisconnected = "disconnected"
	TransitionResync       = "resync"
)

type PresenceEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	ConnID    string    `json:"connId"`
	Count     int       `json:"participantCount"`
	At        time.Time `json:"at"`
}

// EventSink 在线状态变化的旁路输出，失败只打日志
type EventSink interface {
	Publish(ctx context.Context, ev PresenceEvent) error
}

type NopSink struct{}

func (NopSink) Publish(context.Context, PresenceEvent) error { return nil }

// DepartureEvent 一次离开/断开，在 reconcile 之后触发
type DepartureEvent struct {
	SessionID string
	Identity  Identity
	ConnID    string
	// StillPresent 该身份是否还有别的连接留在房间里
	StillPresent bool
	Disconnect   bool
	Snapshot     Snapshot
}

// LifecycleHooks 在线状态变化对持久化层的副作用
type LifecycleHooks struct {
	store SessionStore
	sink  EventSink
	log   *zap.Logger
}

func NewLifecycleHooks(store SessionStore, sink EventSink) *LifecycleHooks {
	if sink == nil {
		sink = NopSink{}
	}
	return &LifecycleHooks{store: store, sink: sink, log: logger.Named("lifecycle")}
}

// OnDeparture 把非创建者从持久化参与者列表里移除。创建者永远不会被移除。
// 错误只记录，不向上抛。
func (h *LifecycleHooks) OnDeparture(ctx context.Context, ev DepartureEvent) {
	kind := TransitionLeft
	if ev.Disconnect {
		kind = TransitionDisconnected
	}
	h.emit(ctx, kind, ev.SessionID, ev.Identity, ev.ConnID, ev.Snapshot.Count())

	if ev.StillPresent || h.store == nil {
		return
	}
	sess, err := h.store.FindSession(ctx, ev.SessionID)
	if err != nil {
		h.log.Debug("departure cleanup skipped", zap.String("sessionId", ev.SessionID), zap.Error(err))
		return
	}
	if sess.IsOwner(ev.Identity.UserID) {
		return
	}
	if !sess.IsParticipant(ev.Identity.UserID) {
		return
	}
	removed, err := h.store.RemoveParticipant(ctx, ev.SessionID, ev.Identity.UserID)
	if err != nil {
		h.log.Warn("remove participant failed",
			zap.String("sessionId", ev.SessionID),
			zap.String("userId", ev.Identity.UserID),
			zap.Error(err))
		return
	}
	if removed {
		h.log.Info("participant cleaned up",
			zap.String("sessionId", ev.SessionID),
			zap.String("userId", ev.Identity.UserID))
	}
}

func (h *LifecycleHooks) OnJoin(ctx context.Context, st *ConnState, snap Snapshot) {
	h.emit(ctx, TransitionJoined, snap.SessionID, st.Identity, st.ConnID, snap.Count())
}

func (h *LifecycleHooks) OnResync(ctx context.Context, st *ConnState, snap Snapshot) {
	h.emit(ctx, TransitionResync, snap.SessionID, st.Identity, st.ConnID, snap.Count())
}

func (h *LifecycleHooks) emit(ctx context.Context, kind, sessionID string, id Identity, connID string, count int) {
	ev := PresenceEvent{
		Type:      kind,
		SessionID: sessionID,
		UserID:    id.UserID,
		Username:  id.Username,
		ConnID:    connID,
		Count:     count,
		At:        time.Now().UTC(),
	}
	if err := h.sink.Publish(ctx, ev); err != nil {
		h.log.Warn("presence event publish failed", zap.String("type", kind), zap.String("sessionId", sessionID), zap.Error(err))
	}
}
