package presence

import (
	"context"

	"PPoker/logger"
	"PPoker/tools/errs"

	"go.uber.org/zap"
)

const (
	msgConnected     = "WebSocket connection established"
	msgNotFound      = "Session not found"
	msgNotAuthorized = "Access to this session is denied"
	msgNotAllowed    = "Action not allowed"
	msgJoinFailed    = "Failed to join session"
)

// Protocol 在线状态协议。每个方法读写一个连接的 ConnState，返回按顺序投递的消息；
// 真正的发送由网关完成。
type Protocol struct {
	rooms      Rooms
	tracker    MembershipTracker
	reconciler *Reconciler
	sessions   SessionStore
	hooks      *LifecycleHooks
	log        *zap.Logger
}

func NewProtocol(rooms Rooms, tracker MembershipTracker, reconciler *Reconciler, sessions SessionStore, hooks *LifecycleHooks) *Protocol {
	if hooks == nil {
		hooks = NewLifecycleHooks(sessions, nil)
	}
	return &Protocol{
		rooms:      rooms,
		tracker:    tracker,
		reconciler: reconciler,
		sessions:   sessions,
		hooks:      hooks,
		log:        logger.Named("protocol"),
	}
}

func (p *Protocol) Reconciler() *Reconciler { return p.reconciler }

func (p *Protocol) Tracker() MembershipTracker { return p.tracker }

// Welcome 连接建立后发给该连接
func (p *Protocol) Welcome(st *ConnState) []Outbound {
	return []Outbound{
		toConn(st.ConnID, EventConnected, ConnectedPayload{
			Message:  msgConnected,
			UserID:   st.Identity.UserID,
			Username: st.Identity.Username,
		}),
		toConn(st.ConnID, EventSessionParticipantCounts, p.tracker.AllCounts()),
	}
}

// Join 鉴权 -> 离开旧房间 -> 订阅 -> reconcile -> 五条广播。
// 鉴权失败不改任何状态。
func (p *Protocol) Join(ctx context.Context, st *ConnState, sessionID string) ([]Outbound, error) {
	if sessionID == "" {
		return nil, errs.ErrArgs.WrapMsg("sessionId is required")
	}
	uid := st.Identity.UserID

	sess, err := p.sessions.FindSession(ctx, sessionID)
	if err != nil {
		if errs.ErrSessionNotFound.Is(err) {
			return notFound(st.ConnID, sessionID), err
		}
		p.log.Error("find session failed", zap.String("sessionId", sessionID), zap.Error(err))
		return []Outbound{toConn(st.ConnID, EventError, ErrorPayload{Message: msgJoinFailed})}, err
	}
	if !sess.CanAccess(uid) {
		return []Outbound{
			toConn(st.ConnID, EventSessionNotAuthorized, SessionRefPayload{SessionID: sessionID, Message: msgNotAuthorized}),
			toConn(st.ConnID, EventError, ErrorPayload{Message: msgNotAuthorized}),
		}, errs.ErrSessionNotAuthorized.WrapMsg("join", "sessionId", sessionID, "userId", uid)
	}

	// 一个连接同一时间只在一个 session 房间里
	if prev := st.CurrentSession; prev != "" && prev != sessionID {
		p.rooms.Unsubscribe(RoomName(prev), st.ConnID)
		p.tracker.Remove(prev, uid)
	}

	room := RoomName(sessionID)
	p.rooms.Subscribe(room, Subscription{ConnID: st.ConnID, Identity: st.Identity})
	st.CurrentSession = sessionID

	snap := p.reconciler.Reconcile(sessionID)
	p.hooks.OnJoin(ctx, st, snap)

	p.log.Info("joined session",
		zap.String("username", st.Identity.Username),
		zap.String("sessionId", sessionID),
		zap.Strings("online", snap.UserIDs()))

	users, ids := snapshotUsers(snap), snapshotIDs(snap)
	return []Outbound{
		toConn(st.ConnID, EventSessionUsers, SessionUsersPayload{
			SessionID:      sessionID,
			OnlineUsers:    ids,
			ConnectedUsers: users,
		}),
		toRoom(room, EventParticipantsUpdated, ParticipantsUpdatedPayload{
			SessionID:        sessionID,
			OnlineUsers:      ids,
			ParticipantCount: len(ids),
			ConnectedUsers:   users,
		}),
		toRoomExcept(room, st.ConnID, EventUserConnected, UserPresencePayload{
			UserID:    uid,
			Username:  st.Identity.Username,
			SessionID: sessionID,
		}),
		global(EventSessionParticipantUpdate, ParticipantCountPayload{
			SessionID:        sessionID,
			ParticipantCount: len(ids),
		}),
		toConn(st.ConnID, EventJoinedSession, JoinedSessionPayload{
			SessionID: sessionID,
			UserCount: len(ids),
			Users:     users,
		}),
	}, nil
}

// Rejoin 与 Join 是同一个转换；身份以握手认证的为准
func (p *Protocol) Rejoin(ctx context.Context, st *ConnState, req RejoinRequest) ([]Outbound, error) {
	if (req.UserID != "" && req.UserID != st.Identity.UserID) ||
		(req.Username != "" && req.Username != st.Identity.Username) {
		p.log.Warn("rejoin identity mismatch, using authenticated identity",
			zap.String("claimedUserId", req.UserID),
			zap.String("claimedUsername", req.Username),
			zap.String("userId", st.Identity.UserID))
	}
	return p.Join(ctx, st, req.SessionID)
}

// Leave 主动离开，最后给离开的连接回 leftSession
func (p *Protocol) Leave(ctx context.Context, st *ConnState, sessionID string) ([]Outbound, error) {
	if sessionID == "" {
		return nil, errs.ErrArgs.WrapMsg("sessionId is required")
	}
	left := toConn(st.ConnID, EventLeftSession, LeftSessionPayload{SessionID: sessionID, Success: true})
	// 这条连接根本不在该房间：不做持久化清理，也不广播
	if !p.rooms.IsSubscribed(RoomName(sessionID), st.ConnID) {
		p.log.Debug("leave for unjoined session",
			zap.String("username", st.Identity.Username),
			zap.String("sessionId", sessionID))
		return []Outbound{left}, nil
	}
	outs := p.depart(ctx, st, sessionID, false)
	return append(outs, left), nil
}

// Disconnect 传输层断开；连接已不可达，所以没有 leftSession
func (p *Protocol) Disconnect(ctx context.Context, st *ConnState) []Outbound {
	if st.CurrentSession == "" {
		return nil
	}
	return p.depart(ctx, st, st.CurrentSession, true)
}

func (p *Protocol) depart(ctx context.Context, st *ConnState, sessionID string, disconnect bool) []Outbound {
	room := RoomName(sessionID)
	p.rooms.Unsubscribe(room, st.ConnID)
	if st.CurrentSession == sessionID {
		st.CurrentSession = ""
	}

	snap := p.reconciler.Reconcile(sessionID)
	stillPresent := snap.Has(st.Identity.UserID)

	p.hooks.OnDeparture(ctx, DepartureEvent{
		SessionID:    sessionID,
		Identity:     st.Identity,
		ConnID:       st.ConnID,
		StillPresent: stillPresent,
		Disconnect:   disconnect,
		Snapshot:     snap,
	})

	p.log.Info("left session",
		zap.String("username", st.Identity.Username),
		zap.String("sessionId", sessionID),
		zap.Bool("disconnect", disconnect),
		zap.Int("remaining", snap.Count()))

	users, ids := snapshotUsers(snap), snapshotIDs(snap)
	outs := []Outbound{
		toRoom(room, EventParticipantsUpdated, ParticipantsUpdatedPayload{
			SessionID:        sessionID,
			OnlineUsers:      ids,
			ParticipantCount: len(ids),
			ConnectedUsers:   users,
		}),
	}
	if !stillPresent {
		outs = append(outs, toRoomExcept(room, st.ConnID, EventUserDisconnected, UserPresencePayload{
			UserID:    st.Identity.UserID,
			Username:  st.Identity.Username,
			SessionID: sessionID,
		}))
	}
	outs = append(outs, global(EventSessionParticipantUpdate, ParticipantCountPayload{
		SessionID:        sessionID,
		ParticipantCount: len(ids),
	}))
	return outs
}

// Resync 客户端怀疑丢事件时主动请求；只允许当前就在该 session 的连接
func (p *Protocol) Resync(ctx context.Context, st *ConnState, sessionID string) ([]Outbound, error) {
	if !p.inSession(st, sessionID) {
		return nil, errs.ErrNotInSession.WrapMsg("resync", "sessionId", sessionID)
	}
	snap := p.reconciler.Reconcile(sessionID)
	p.hooks.OnResync(ctx, st, snap)

	users, ids := snapshotUsers(snap), snapshotIDs(snap)
	return []Outbound{
		toConn(st.ConnID, EventSessionUsers, SessionUsersPayload{
			SessionID:      sessionID,
			OnlineUsers:    ids,
			ConnectedUsers: users,
		}),
		toRoom(RoomName(sessionID), EventParticipantsUpdated, ParticipantsUpdatedPayload{
			SessionID:        sessionID,
			OnlineUsers:      ids,
			ParticipantCount: len(ids),
			ConnectedUsers:   users,
			SyncType:         SyncTypePresence,
		}),
	}, nil
}

func (p *Protocol) VoteUpdate(st *ConnState, sessionID string) ([]Outbound, error) {
	if !p.inSession(st, sessionID) {
		return nil, errs.ErrNotInSession.WrapMsg("voteUpdate", "sessionId", sessionID)
	}
	return []Outbound{
		toRoomExcept(RoomName(sessionID), st.ConnID, EventVoteSubmitted, VoteSubmittedPayload{
			UserID:    st.Identity.UserID,
			Username:  st.Identity.Username,
			SessionID: sessionID,
			HasVoted:  true,
		}),
	}, nil
}

// AdminAction 只有创建者可以执行
func (p *Protocol) AdminAction(ctx context.Context, st *ConnState, req AdminRequest) ([]Outbound, error) {
	if req.SessionID == "" || req.Action == "" {
		return nil, errs.ErrArgs.WrapMsg("sessionId and action are required")
	}
	sess, err := p.sessions.FindSession(ctx, req.SessionID)
	if err != nil {
		if errs.ErrSessionNotFound.Is(err) {
			return notFound(st.ConnID, req.SessionID), err
		}
		return nil, err
	}
	if !sess.IsOwner(st.Identity.UserID) {
		return []Outbound{toConn(st.ConnID, EventError, ErrorPayload{Message: msgNotAllowed})},
			errs.ErrActionNotAllowed.WrapMsg("adminAction", "sessionId", req.SessionID, "action", req.Action)
	}
	p.log.Info("admin action",
		zap.String("action", req.Action),
		zap.String("sessionId", req.SessionID),
		zap.String("admin", st.Identity.Username))
	return []Outbound{
		toRoom(RoomName(req.SessionID), EventAdminActionExecuted, AdminActionPayload{
			Action:        req.Action,
			Payload:       req.Payload,
			SessionID:     req.SessionID,
			AdminUsername: st.Identity.Username,
		}),
	}, nil
}

func (p *Protocol) Typing(st *ConnState, sessionID string, typing bool) ([]Outbound, error) {
	if !p.inSession(st, sessionID) {
		return nil, errs.ErrNotInSession.WrapMsg("typing", "sessionId", sessionID)
	}
	event := EventUserTyping
	if !typing {
		event = EventUserStoppedTyping
	}
	return []Outbound{
		toRoomExcept(RoomName(sessionID), st.ConnID, event, UserPresencePayload{
			UserID:    st.Identity.UserID,
			Username:  st.Identity.Username,
			SessionID: sessionID,
		}),
	}, nil
}

// ForceCloseRoom session 被删除时把所有连接踢出房间，返回被踢的连接。
// 这些连接的 ConnState 不用同步清理：inSession 会以房间订阅为准。
func (p *Protocol) ForceCloseRoom(sessionID string) []string {
	room := RoomName(sessionID)
	var kicked []string
	for _, sub := range p.rooms.RoomMembers(room) {
		if p.rooms.Unsubscribe(room, sub.ConnID) {
			kicked = append(kicked, sub.ConnID)
		}
	}
	p.reconciler.Reconcile(sessionID)
	return kicked
}

// inSession 连接状态和房间订阅都要对得上
func (p *Protocol) inSession(st *ConnState, sessionID string) bool {
	if sessionID == "" || st.CurrentSession != sessionID {
		return false
	}
	return p.rooms.IsSubscribed(RoomName(sessionID), st.ConnID)
}

func notFound(connID, sessionID string) []Outbound {
	return []Outbound{
		toConn(connID, EventSessionNotFound, SessionRefPayload{SessionID: sessionID, Message: msgNotFound}),
		toConn(connID, EventError, ErrorPayload{Message: msgNotFound}),
	}
}

// HasError outs 里是否已经包含给请求方的 error 消息
func HasError(outs []Outbound) bool {
	for _, o := range outs {
		if o.Event == EventError {
			return true
		}
	}
	return false
}
