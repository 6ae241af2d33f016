package gateway

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"PPoker/service/metrics"
	"PPoker/service/presence"
	"PPoker/tools/errs"
	"PPoker/tools/ids"
	"PPoker/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const tokenCookie = "token"

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host) {
			return true
		}
	}
	return false
}

// HandshakeToken 依次取 query token、Authorization Bearer、token cookie
func HandshakeToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	if c, err := r.Cookie(tokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// HandleWS ===== WebSocket 处理 =====
// 握手阶段鉴权，失败直接 401，不升级也不登记
func (s *Server) HandleWS(c *gin.Context) {
	claims, err := security.Verify(s.opts.JWT, HandshakeToken(c.Request))
	if err != nil {
		s.log.Info("handshake rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.TokenInvalidError, "message": "Authentication error"})
		return
	}

	ws, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		s.log.Info("upgrade websocket failed", zap.Error(err))
		return
	}

	identity := presence.Identity{UserID: claims.UserID, Username: claims.Username}
	conf := s.mgr.Conf()
	w := NewWsConn(ids.GenerateString(), identity, ws, conf.SendQueueSize, conf.Clock())
	if err := s.mgr.Add(w); err != nil {
		s.log.Error("add conn failed", zap.Error(err))
		_ = ws.Close()
		return
	}
	s.mgr.AttachPongHandler(ws, w.SnowID)
	s.metrics.ConnOpened()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	s.bindRegistry(ctx, w)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(w)
	}()

	s.log.Info("connected",
		zap.String("username", identity.Username),
		zap.String("userId", identity.UserID),
		zap.String("gw", s.mgr.GwId()),
		zap.String("snowID", w.SnowID))
	s.Deliver(ctx, s.opts.Protocol.Welcome(w.State))

	s.readLoop(ctx, w)

	// ---- 退出阶段：离开房间、注销登记、等写协程收尾 ----
	s.cleanup(w)
	<-writerDone
}

// bindRegistry 新身份直接登记；已登记则换绑到这条连接，必要时踢掉旧连接
func (s *Server) bindRegistry(ctx context.Context, w *WsConn) {
	reg := s.opts.Registry
	username := w.Identity().Username
	ok, err := reg.Register(ctx, username, w.Identity().UserID, w.SnowID)
	if err != nil {
		s.log.Warn("registry register failed", zap.String("username", username), zap.Error(err))
		return
	}
	if ok {
		return
	}
	prev, err := reg.BindConnection(ctx, username, w.SnowID)
	if err != nil {
		s.log.Warn("registry bind failed", zap.String("username", username), zap.Error(err))
		return
	}
	if prev != "" && prev != w.SnowID && s.opts.EvictReplaced {
		if s.mgr.Kick(prev) {
			s.log.Info("evicted replaced connection", zap.String("username", username), zap.String("prev", prev))
		}
	}
}

func (s *Server) readLoop(ctx context.Context, w *WsConn) {
	for {
		mt, data, rerr := w.Conn.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.log.Info("peer closed", zap.String("snowID", w.SnowID))
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				s.log.Info("read timeout", zap.String("snowID", w.SnowID))
			} else {
				s.log.Info("read failed", zap.String("snowID", w.SnowID), zap.Error(rerr))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		env, perr := ParseFrameJSON(data)
		if perr != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			s.log.Debug("bad frame", zap.String("snowID", w.SnowID), zap.Error(perr), zap.ByteString("sample", sample))
			continue
		}

		s.mgr.Heartbeat(w.SnowID)
		s.opts.Registry.Touch(ctx, w.Identity().Username)
		s.handleEvent(ctx, env, w)
	}
}

// handleEvent 同一连接的事件串行处理
func (s *Server) handleEvent(ctx context.Context, env *Envelope, w *WsConn) {
	outs, err := s.disp.Dispatch(&Context{Ctx: ctx, S: s}, env, w)
	// 事件名来自客户端，未注册的统一记成 unknown，避免指标序列无限增长
	label := metrics.UnknownEvent
	if s.disp.Known(env.Event) {
		label = env.Event
	}
	s.metrics.RecordEvent(label, err != nil)
	s.Deliver(ctx, outs)
	if err == nil {
		return
	}
	s.logEventErr(label, w.SnowID, err)
	if presence.HasError(outs) {
		return
	}
	s.Deliver(ctx, []presence.Outbound{{
		Kind:    presence.ToConn,
		ConnID:  w.SnowID,
		Event:   presence.EventError,
		Payload: presence.ErrorPayload{Message: clientMessage(err)},
	}})
}

// logEventErr 客户端造成的 4xx 只打 debug，且不带调用栈
func (s *Server) logEventErr(event, snowID string, err error) {
	if ce, ok := errs.AsCode(err); ok && ce.Code < errs.ServerInternalError {
		s.log.Debug("event rejected",
			zap.String("event", event),
			zap.String("snowID", snowID),
			zap.String("reason", err.Error()))
		return
	}
	s.log.Error("event failed",
		zap.String("event", event),
		zap.String("snowID", snowID),
		zap.Error(err))
}

func clientMessage(err error) string {
	if ce, ok := errs.AsCode(err); ok {
		if ce.Code >= errs.ServerInternalError {
			return "Internal server error"
		}
		return ce.Msg
	}
	return "Internal server error"
}

func (s *Server) cleanup(w *WsConn) {
	ctx, cancel := bgCtx()
	defer cancel()

	s.Deliver(ctx, s.opts.Protocol.Disconnect(ctx, w.State))
	// 理论上 Disconnect 已经退订；这里兜底清掉残留订阅
	s.mgr.Rooms().UnsubscribeAll(w.SnowID)
	s.opts.Registry.RemoveByConnection(ctx, w.SnowID)
	s.mgr.Remove(w.SnowID)
	w.Close()
	s.metrics.ConnClosed()

	s.log.Info("disconnected",
		zap.String("username", w.Identity().Username),
		zap.String("snowID", w.SnowID))
}
