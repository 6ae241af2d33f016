package vote

import (
	"context"
	"net/http"

	"PPoker/logger"
	"PPoker/middleware"
	"PPoker/middleware/security"
	"PPoker/module/session"
	"PPoker/service/gateway"
	"PPoker/tools/apiresp"
	"PPoker/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	EventVoteSubmitted = "voteSubmitted"
	EventVotesRevealed = "votesRevealed"
	EventVotesReset    = "votesReset"
)

// Book 实现 session.VoteBook
type Book struct {
	store Store
}

func NewBook(store Store) *Book { return &Book{store: store} }

func (b *Book) Snapshot(ctx context.Context, sess *session.Session) (any, error) {
	votes, err := b.store.ListRound(ctx, sess.IDHex(), sess.Round())
	if err != nil {
		return nil, err
	}
	if sess.VotesRevealed {
		return votes, nil
	}
	return hide(votes), nil
}

func (b *Book) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := b.store.DeleteSession(ctx, sessionID)
	return err
}

type Handler struct {
	store    Store
	sessions session.Store
	notifier gateway.Notifier
	log      *zap.Logger
}

func NewHandler(store Store, sessions session.Store, notifier gateway.Notifier) *Handler {
	if notifier == nil {
		notifier = gateway.NopNotifier{}
	}
	return &Handler{store: store, sessions: sessions, notifier: notifier, log: logger.Named("vote")}
}

func (h *Handler) Register(r gin.IRoutes, opt middleware.RouteOpt) {
	middleware.POST(r, "/votes/:sessionId", h.Submit, opt)
	middleware.POST(r, "/votes/:sessionId/reveal", h.Reveal, opt)
	middleware.POST(r, "/votes/:sessionId/reset", h.Reset, opt)
	middleware.GET(r, "/votes/:sessionId", h.List, opt)
}

type submitReq struct {
	Value string `json:"value"`
}

func (h *Handler) Submit(c *gin.Context) {
	uid, uname := security.Current(c)
	ctx := c.Request.Context()
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresp.Error(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if !ValidCard(req.Value) {
		apiresp.Error(c, errs.ErrArgs.WrapMsg("invalid card", "value", req.Value))
		return
	}
	id := c.Param("sessionId")
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !session.HasPermission(sess, uid, session.PermSubmitVote) || !sess.IsParticipant(uid) {
		apiresp.Error(c, errs.ErrActionNotAllowed.WrapMsg("You must be a participant to vote"))
		return
	}
	if sess.VotesRevealed {
		apiresp.Error(c, errs.ErrArgs.WrapMsg("Votes have already been revealed for this round"))
		return
	}
	v, err := h.store.Upsert(ctx, &Vote{
		SessionID: id,
		UserID:    uid,
		Username:  uname,
		Value:     req.Value,
		Round:     sess.Round(),
	})
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	h.notifier.Room(ctx, id, EventVoteSubmitted, gin.H{
		"sessionId": id,
		"userId":    uid,
		"username":  uname,
		"hasVoted":  true,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Vote recorded", "vote": v})
}

func (h *Handler) Reveal(c *gin.Context) {
	uid, _ := security.Current(c)
	ctx := c.Request.Context()
	id := c.Param("sessionId")
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !session.HasPermission(sess, uid, session.PermRevealVotes) {
		apiresp.Error(c, errs.ErrActionNotAllowed.WrapMsg("You do not have permission to reveal votes"))
		return
	}
	if err := h.sessions.SetVotesRevealed(ctx, id, true); err != nil {
		apiresp.Error(c, err)
		return
	}
	votes, err := h.store.ListRound(ctx, id, sess.Round())
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	stats := ComputeStats(votes)
	h.notifier.Room(ctx, id, EventVotesRevealed, gin.H{"sessionId": id, "votes": votes, "stats": stats})
	c.JSON(http.StatusOK, gin.H{"message": "Votes revealed", "votes": votes, "stats": stats})
}

func (h *Handler) Reset(c *gin.Context) {
	uid, _ := security.Current(c)
	ctx := c.Request.Context()
	id := c.Param("sessionId")
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !session.HasPermission(sess, uid, session.PermResetVotes) {
		apiresp.Error(c, errs.ErrActionNotAllowed.WrapMsg("You do not have permission to reset votes"))
		return
	}
	n, err := h.store.DeleteRound(ctx, id, sess.Round())
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if err := h.sessions.SetVotesRevealed(ctx, id, false); err != nil {
		apiresp.Error(c, err)
		return
	}
	h.log.Debug("votes reset", zap.String("sessionId", id), zap.Int64("deleted", n))
	h.notifier.Room(ctx, id, EventVotesReset, gin.H{"sessionId": id})
	c.JSON(http.StatusOK, gin.H{"message": "Votes reset"})
}

func (h *Handler) List(c *gin.Context) {
	uid, _ := security.Current(c)
	ctx := c.Request.Context()
	id := c.Param("sessionId")
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if !sess.CanAccess(uid) {
		apiresp.Error(c, errs.ErrSessionNotAuthorized.WrapMsg("Access denied to this session"))
		return
	}
	votes, err := h.store.ListRound(ctx, id, sess.Round())
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if sess.VotesRevealed && session.HasPermission(sess, uid, session.PermViewRevealedVotes) {
		c.JSON(http.StatusOK, gin.H{"votes": votes, "revealed": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"votes": hide(votes), "revealed": false})
}
