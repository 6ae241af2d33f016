package session

import (
	"context"
	"net/http"
	"strings"

	"PPoker/logger"
	"PPoker/middleware"
	"PPoker/middleware/security"
	"PPoker/service/gateway"
	"PPoker/service/presence"
	"PPoker/tools/apiresp"
	"PPoker/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 推给客户端的 REST 侧事件
const (
	EventSessionCreated = "sessionCreated"
	EventSessionDeleted = "sessionDeleted"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventTicketUpdated  = "ticketUpdated"
)

// VoteBook session 接口用到的投票能力，由 vote 模块实现
type VoteBook interface {
	// Snapshot 当前轮的投票；未揭晓时只给出谁投了
	Snapshot(ctx context.Context, sess *Session) (any, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type Handler struct {
	store    Store
	votes    VoteBook
	notifier gateway.Notifier
	tracker  presence.MembershipTracker
	log      *zap.Logger
}

func NewHandler(store Store, votes VoteBook, notifier gateway.Notifier, tracker presence.MembershipTracker) *Handler {
	if notifier == nil {
		notifier = gateway.NopNotifier{}
	}
	return &Handler{store: store, votes: votes, notifier: notifier, tracker: tracker, log: logger.Named("session")}
}

func (h *Handler) Register(r gin.IRoutes, opt middleware.RouteOpt) {
	middleware.GET(r, "/sessions", h.List, opt)
	middleware.GET(r, "/sessions/presence/counts", h.Counts, opt)
	middleware.GET(r, "/sessions/:id", h.Get, opt)
	middleware.POST(r, "/sessions", h.Create, opt)
	middleware.POST(r, "/sessions/:id/join", h.Join, opt)
	middleware.POST(r, "/sessions/:id/leave", h.Leave, opt)
	middleware.DELETE(r, "/sessions/:id", h.Delete, opt)
	middleware.PUT(r, "/sessions/:id/ticket", h.UpdateTicket, opt)
}

type userRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (h *Handler) List(c *gin.Context) {
	uid, _ := security.Current(c)
	list, err := h.store.ListVisible(c.Request.Context(), uid)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Counts(c *gin.Context) {
	counts := map[string]int{}
	if h.tracker != nil {
		counts = h.tracker.AllCounts()
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *Handler) Get(c *gin.Context) {
	uid, _ := security.Current(c)
	ctx := c.Request.Context()
	sess, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !sess.CanAccess(uid) {
		apiresp.Error(c, errs.ErrSessionNotAuthorized.WrapMsg("Access denied to this session"))
		return
	}
	var votes any = []any{}
	if h.votes != nil {
		if votes, err = h.votes.Snapshot(ctx, sess); err != nil {
			apiresp.Error(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  sess,
		"votes":    votes,
		"userRole": RoleOf(sess, uid),
	})
}

type createReq struct {
	Name     string `json:"name"`
	IsPublic *bool  `json:"isPublic"`
}

func (h *Handler) Create(c *gin.Context) {
	uid, uname := security.Current(c)
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Error(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	name := strings.TrimSpace(req.Name)
	if n := len([]rune(name)); n < 1 || n > 100 {
		apiresp.Error(c, errs.ErrArgs.WrapMsg("name must be 1-100 characters"))
		return
	}
	me := Member{UserID: uid, Username: uname}
	sess := &Session{
		Name:         name,
		CreatedBy:    me,
		Participants: []Member{me},
		IsPublic:     req.IsPublic == nil || *req.IsPublic,
		Status:       StatusActive,
		CurrentRound: 1,
	}
	ctx := c.Request.Context()
	if err := h.store.Create(ctx, sess); err != nil {
		apiresp.Error(c, err)
		return
	}
	h.log.Info("session created", zap.String("sessionId", sess.IDHex()), zap.String("by", uname))
	if sess.IsPublic {
		h.notifier.Global(ctx, EventSessionCreated, sess)
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) Join(c *gin.Context) {
	uid, uname := security.Current(c)
	ctx := c.Request.Context()
	id := c.Param("id")
	sess, err := h.store.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !sess.IsParticipant(uid) {
		if sess, err = h.store.AddParticipant(ctx, id, Member{UserID: uid, Username: uname}); err != nil {
			apiresp.Error(c, err)
			return
		}
	}
	h.notifier.Room(ctx, id, EventUserJoined, gin.H{
		"sessionId": id,
		"user":      userRef{ID: uid, Username: uname},
	})
	c.JSON(http.StatusOK, gin.H{"message": "Joined session", "session": sess})
}

func (h *Handler) Leave(c *gin.Context) {
	uid, uname := security.Current(c)
	ctx := c.Request.Context()
	id := c.Param("id")
	sess, err := h.store.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !sess.IsParticipant(uid) {
		apiresp.Error(c, errs.ErrArgs.WrapMsg("You are not a participant of this session"))
		return
	}
	if sess.IsOwner(uid) {
		apiresp.Error(c, errs.ErrArgs.WrapMsg("The creator cannot leave their own session"))
		return
	}
	if _, err := h.store.RemoveParticipant(ctx, id, uid); err != nil {
		apiresp.Error(c, err)
		return
	}
	if sess, err = h.store.Get(ctx, id); err != nil {
		apiresp.Error(c, err)
		return
	}
	h.notifier.Room(ctx, id, EventUserLeft, gin.H{
		"sessionId": id,
		"user":      userRef{ID: uid, Username: uname},
	})
	c.JSON(http.StatusOK, gin.H{"message": "Left session", "session": sess})
}

// Delete 先通知房间，再清房间、删投票、删 session，最后全局广播
func (h *Handler) Delete(c *gin.Context) {
	uid, uname := security.Current(c)
	ctx := c.Request.Context()
	id := c.Param("id")
	sess, err := h.store.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !HasPermission(sess, uid, PermDeleteSession) {
		apiresp.Error(c, errs.ErrActionNotAllowed.WrapMsg("You do not have permission to delete this session"))
		return
	}
	h.notifier.Room(ctx, id, EventSessionDeleted, gin.H{
		"sessionId":   id,
		"sessionName": sess.Name,
		"deletedBy":   uname,
	})
	kicked := h.notifier.CloseRoom(ctx, id)
	if h.votes != nil {
		if err := h.votes.DeleteSession(ctx, id); err != nil {
			apiresp.Error(c, err)
			return
		}
	}
	if err := h.store.Delete(ctx, id); err != nil {
		apiresp.Error(c, err)
		return
	}
	h.log.Info("session deleted", zap.String("sessionId", id), zap.String("by", uname), zap.Int("kicked", len(kicked)))
	h.notifier.Global(ctx, EventSessionDeleted, gin.H{"sessionId": id})
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

func (h *Handler) UpdateTicket(c *gin.Context) {
	uid, _ := security.Current(c)
	ctx := c.Request.Context()
	id := c.Param("id")
	sess, err := h.store.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !HasPermission(sess, uid, PermSelectTicket) {
		apiresp.Error(c, errs.ErrActionNotAllowed.WrapMsg("You do not have permission to select a ticket"))
		return
	}
	var t Ticket
	if err := c.ShouldBindJSON(&t); err != nil {
		apiresp.Error(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if err := h.store.UpdateTicket(ctx, id, t); err != nil {
		apiresp.Error(c, err)
		return
	}
	h.notifier.Room(ctx, id, EventTicketUpdated, gin.H{"sessionId": id, "ticket": t})
	c.JSON(http.StatusOK, gin.H{"message": "Ticket updated", "ticket": t})
}
