package handlers

import (
	"PPoker/service/gateway"
	"PPoker/service/presence"
	"PPoker/tools/decode"
	"PPoker/tools/errs"
)

type VoteHandler struct{ p *presence.Protocol }

func NewVoteHandler(p *presence.Protocol) gateway.Handler { return &VoteHandler{p: p} }

func (h *VoteHandler) Event() string { return presence.EventVoteUpdate }

func (h *VoteHandler) Handle(_ *gateway.Context, env *gateway.Envelope, conn *gateway.WsConn) ([]presence.Outbound, error) {
	sid, err := sessionID(env)
	if err != nil {
		return nil, err
	}
	return h.p.VoteUpdate(conn.State, sid)
}

type AdminHandler struct{ p *presence.Protocol }

func NewAdminHandler(p *presence.Protocol) gateway.Handler { return &AdminHandler{p: p} }

func (h *AdminHandler) Event() string { return presence.EventAdminAction }

func (h *AdminHandler) Handle(ctx *gateway.Context, env *gateway.Envelope, conn *gateway.WsConn) ([]presence.Outbound, error) {
	req, err := decode.Raw[presence.AdminRequest](env.Data, "")
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error(), "event", env.Event)
	}
	return h.p.AdminAction(ctx.Ctx, conn.State, *req)
}

// TypingHandler typing / stopTyping 共用
type TypingHandler struct {
	p      *presence.Protocol
	typing bool
}

func NewTypingHandler(p *presence.Protocol, typing bool) gateway.Handler {
	return &TypingHandler{p: p, typing: typing}
}

func (h *TypingHandler) Event() string {
	if h.typing {
		return presence.EventTyping
	}
	return presence.EventStopTyping
}

func (h *TypingHandler) Handle(_ *gateway.Context, env *gateway.Envelope, conn *gateway.WsConn) ([]presence.Outbound, error) {
	sid, err := sessionID(env)
	if err != nil {
		return nil, err
	}
	return h.p.Typing(conn.State, sid, h.typing)
}
