package handlers

import (
	"PPoker/service/gateway"
	"PPoker/service/presence"
	"PPoker/tools/decode"
	"PPoker/tools/errs"
)

const scalarKey = "sessionId"

func sessionID(env *gateway.Envelope) (string, error) {
	req, err := decode.Raw[presence.SessionRequest](env.Data, scalarKey)
	if err != nil {
		return "", errs.ErrArgs.WrapMsg(err.Error(), "event", env.Event)
	}
	if req.SessionID == "" {
		return "", errs.ErrArgs.WrapMsg("sessionId is required", "event", env.Event)
	}
	return req.SessionID, nil
}

// ===== joinSession =====

type JoinHandler struct{ p *presence.Protocol }

func NewJoinHandler(p *presence.Protocol) gateway.Handler { return &JoinHandler{p: p} }

func (h *JoinHandler) Event() string { return presence.EventJoinSession }

func (h *JoinHandler) Handle(ctx *gateway.Context, env *gateway.Envelope, conn *gateway.WsConn) ([]presence.Outbound, error) {
	sid, err := sessionID(env)
	if err != nil {
		return nil, err
	}
	return h.p.Join(ctx.Ctx, conn.State, sid)
}

// ===== rejoinSession =====

type RejoinHandler struct{ p *presence.Protocol }

func NewRejoinHandler(p *presence.Protocol) gateway.Handler { return &RejoinHandler{p: p} }

func (h *RejoinHandler) Event() string { return presence.EventRejoinSession }

func (h *RejoinHandler) Handle(ctx *gateway.Context, env *gateway.Envelope, conn *gateway.WsConn) ([]presence.Outbound, error) {
	req, err := decode.Raw[presence.RejoinRequest](env.Data, scalarKey)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error(), "event", env.Event)
	}
	return h.p.Rejoin(ctx.Ctx, conn.State, *req)
}

// ===== leaveSession =====

type LeaveHandler struct{ p *presence.Protocol }

func NewLeaveHandler(p *presence.Protocol) gateway.Handler { return &LeaveHandler{p: p} }

func (h *LeaveHandler) Event() string { return presence.EventLeaveSession }

func (h *LeaveHandler) Handle(ctx *gateway.Context, env *gateway.Envelope, conn *gateway.WsConn) ([]presence.Outbound, error) {
	sid, err := sessionID(env)
	if err != nil {
		return nil, err
	}
	return h.p.Leave(ctx.Ctx, conn.State, sid)
}

// ===== requestPresenceSync =====

type SyncHandler struct{ p *presence.Protocol }

func NewSyncHandler(p *presence.Protocol) gateway.Handler { return &SyncHandler{p: p} }

func (h *SyncHandler) Event() string { return presence.EventRequestPresenceSync }

func (h *SyncHandler) Handle(ctx *gateway.Context, env *gateway.Envelope, conn *gateway.WsConn) ([]presence.Outbound, error) {
	sid, err := sessionID(env)
	if err != nil {
		return nil, err
	}
	return h.p.Resync(ctx.Ctx, conn.State, sid)
}
