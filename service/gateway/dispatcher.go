package gateway

import (
	"context"

	"PPoker/service/presence"
	"PPoker/tools/errs"
	"PPoker/tools/safe"

	"github.com/golang/glog"
)

type Handler interface {
	Event() string
	Handle(*Context, *Envelope, *WsConn) ([]presence.Outbound, error)
}

type Context struct {
	Ctx context.Context
	S   *Server
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) GetHandler(event string) Handler {
	h, ok := d.handlers[event]
	if !ok {
		glog.Infof("no handler for event=%s", event)
		return nil
	}
	return h
}

// Known 事件是否有注册的处理器；不打日志
func (d *Dispatcher) Known(event string) bool {
	_, ok := d.handlers[event]
	return ok
}

// Dispatch 执行一个事件；panic 被转换成 ErrInternal
func (d *Dispatcher) Dispatch(ctx *Context, env *Envelope, conn *WsConn) ([]presence.Outbound, error) {
	h := d.GetHandler(env.Event)
	if h == nil {
		return nil, errs.ErrArgs.WrapMsg("unknown event", "event", env.Event)
	}
	var outs []presence.Outbound
	err := safe.Call(func() error {
		var herr error
		outs, herr = h.Handle(ctx, env, conn)
		return herr
	})
	return outs, err
}
