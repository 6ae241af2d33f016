package presence

import (
	"time"

	"github.com/samber/lo"
)

// ===== 客户端 -> 服务端 =====
const (
	EventJoinSession         = "joinSession"
	EventLeaveSession        = "leaveSession"
	EventRequestPresenceSync = "requestPresenceSync"
	EventVoteUpdate          = "voteUpdate"
	EventAdminAction         = "adminAction"
	EventRejoinSession       = "rejoinSession"
	EventTyping              = "typing"
	EventStopTyping          = "stopTyping"
)

// ===== 服务端 -> 客户端 =====
const (
	EventConnected                = "connected"
	EventSessionUsers             = "sessionUsers"
	EventParticipantsUpdated      = "participantsUpdated"
	EventUserConnected            = "userConnected"
	EventUserDisconnected         = "userDisconnected"
	EventJoinedSession            = "joinedSession"
	EventLeftSession              = "leftSession"
	EventSessionParticipantUpdate = "sessionParticipantUpdate"
	EventSessionParticipantCounts = "sessionParticipantCounts"
	EventError                    = "error"
	EventSessionNotFound          = "sessionNotFound"
	EventSessionNotAuthorized     = "sessionNotAuthorized"
	EventVoteSubmitted            = "voteSubmitted"
	EventAdminActionExecuted      = "adminActionExecuted"
	EventUserTyping               = "userTyping"
	EventUserStoppedTyping        = "userStoppedTyping"

	// REST 侧触发的通知
	EventSessionCreated = "sessionCreated"
	EventSessionDeleted = "sessionDeleted"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventTicketUpdated  = "ticketUpdated"
	EventVotesRevealed  = "votesRevealed"
	EventVotesReset     = "votesReset"
)

// SyncTypePresence 标记 resync 触发的 participantsUpdated
const SyncTypePresence = "presenceSync"

// Identity 账号身份，跨重连稳定
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Subscription 房间里的一条连接订阅
type Subscription struct {
	ConnID       string
	Identity     Identity
	SubscribedAt time.Time
}

type ConnectedUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	SocketID string `json:"socketId"`
}

// Snapshot 一次 reconcile 的结果，广播只读它
type Snapshot struct {
	SessionID string
	Users     []ConnectedUser
}

func (s Snapshot) UserIDs() []string {
	return lo.Map(s.Users, func(u ConnectedUser, _ int) string { return u.UserID })
}

func (s Snapshot) Count() int { return len(s.Users) }

func (s Snapshot) Has(userID string) bool {
	return lo.ContainsBy(s.Users, func(u ConnectedUser) bool { return u.UserID == userID })
}

// ConnState 单个连接的协议状态，只由该连接自己的读协程修改
type ConnState struct {
	ConnID         string
	Identity       Identity
	CurrentSession string
}

type OutboundKind int

const (
	ToConn OutboundKind = iota + 1
	ToRoom
	ToRoomExcept
	Global
)

func (k OutboundKind) String() string {
	switch k {
	case ToConn:
		return "conn"
	case ToRoom:
		return "room"
	case ToRoomExcept:
		return "room-except"
	case Global:
		return "global"
	default:
		return "unknown"
	}
}

// Outbound 一条待投递的消息；ConnID 在 ToConn 时是目标，在 ToRoomExcept 时是被排除的连接
type Outbound struct {
	Kind    OutboundKind
	ConnID  string
	Room    string
	Event   string
	Payload any
}

func toConn(connID, event string, payload any) Outbound {
	return Outbound{Kind: ToConn, ConnID: connID, Event: event, Payload: payload}
}

func toRoom(room, event string, payload any) Outbound {
	return Outbound{Kind: ToRoom, Room: room, Event: event, Payload: payload}
}

func toRoomExcept(room, except, event string, payload any) Outbound {
	return Outbound{Kind: ToRoomExcept, Room: room, ConnID: except, Event: event, Payload: payload}
}

func global(event string, payload any) Outbound {
	return Outbound{Kind: Global, Event: event, Payload: payload}
}

// ===== 下行负载 =====

type ConnectedPayload struct {
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type SessionUsersPayload struct {
	SessionID      string          `json:"sessionId"`
	OnlineUsers    []string        `json:"onlineUsers"`
	ConnectedUsers []ConnectedUser `json:"connectedUsers"`
}

type ParticipantsUpdatedPayload struct {
	SessionID        string          `json:"sessionId"`
	OnlineUsers      []string        `json:"onlineUsers"`
	ParticipantCount int             `json:"participantCount"`
	ConnectedUsers   []ConnectedUser `json:"connectedUsers"`
	SyncType         string          `json:"syncType,omitempty"`
}

type UserPresencePayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type JoinedSessionPayload struct {
	SessionID string          `json:"sessionId"`
	UserCount int             `json:"userCount"`
	Users     []ConnectedUser `json:"users"`
}

type LeftSessionPayload struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
}

type ParticipantCountPayload struct {
	SessionID        string `json:"sessionId"`
	ParticipantCount int    `json:"participantCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type SessionRefPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
}

type VoteSubmittedPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
	HasVoted  bool   `json:"hasVoted"`
}

type AdminActionPayload struct {
	Action        string `json:"action"`
	Payload       any    `json:"payload"`
	SessionID     string `json:"sessionId"`
	AdminUsername string `json:"adminUsername"`
}

// ===== 上行请求 =====

type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type RejoinRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

type AdminRequest struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
	Payload   any    `json:"payload"`
}

func snapshotUsers(s Snapshot) []ConnectedUser {
	if s.Users == nil {
		return []ConnectedUser{}
	}
	return s.Users
}

func snapshotIDs(s Snapshot) []string {
	ids := s.UserIDs()
	if ids == nil {
		return []string{}
	}
	return ids
}
