package gateway

import (
	"context"
	"time"

	"PPoker/logger"
	"PPoker/service/metrics"
	"PPoker/service/presence"
	"PPoker/tools/safe"
	"PPoker/tools/security"

	"go.uber.org/zap"
)

// GlobalBridge 把全局广播转发给其他实例
type GlobalBridge interface {
	Publish(ctx context.Context, frame []byte) error
}

type Options struct {
	NodeID         string
	Conf           ManagerConf
	EvictReplaced  bool     // 同身份新连接顶掉旧连接
	AllowedOrigins []string // 空 => 全部放行
	JWT            security.Options

	Registry presence.ConnectionRegistry
	Protocol *presence.Protocol
	Rooms    *presence.RoomIndex
	Bridge   GlobalBridge
	Metrics  *metrics.Metrics
}

type Server struct {
	opts    Options
	mgr     *ConnManager
	disp    *Dispatcher
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewServer(opts Options) *Server {
	safe.MustNotNil(opts.Registry, "registry")
	safe.MustNotNil(opts.Protocol, "protocol")
	if opts.Rooms == nil {
		opts.Rooms = presence.NewRoomIndex()
	}
	return &Server{
		opts:    opts,
		mgr:     NewConnManager(opts.Conf, opts.NodeID, opts.Rooms),
		disp:    NewDispatcher(),
		metrics: opts.Metrics,
		log:     logger.Named("gateway"),
	}
}

func (s *Server) Start() { s.mgr.Start() }

func (s *Server) Stop() { s.mgr.Close() }

func (s *Server) ConnMgr() *ConnManager { return s.mgr }

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) Protocol() *presence.Protocol { return s.opts.Protocol }

func (s *Server) Registry() presence.ConnectionRegistry { return s.opts.Registry }

// Deliver 按顺序投递协议层产出的消息
func (s *Server) Deliver(ctx context.Context, outs []presence.Outbound) {
	for _, o := range outs {
		frame, err := EncodeFrame(o.Event, o.Payload)
		if err != nil {
			s.log.Error("encode frame failed", zap.String("event", o.Event), zap.Error(err))
			continue
		}
		switch o.Kind {
		case presence.ToConn:
			if err := s.mgr.SendTo(o.ConnID, frame); err != nil {
				s.mgr.logSendErr(o.ConnID, err)
			}
		case presence.ToRoom:
			s.mgr.BroadcastRoom(o.Room, "", frame)
		case presence.ToRoomExcept:
			s.mgr.BroadcastRoom(o.Room, o.ConnID, frame)
		case presence.Global:
			s.broadcastFrame(ctx, frame)
		}
	}
}

// BroadcastAll 本实例全部连接 + 通过 bridge 发给其他实例
func (s *Server) BroadcastAll(ctx context.Context, event string, payload any) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		s.log.Error("encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}
	s.broadcastFrame(ctx, frame)
}

func (s *Server) broadcastFrame(ctx context.Context, frame []byte) {
	s.mgr.BroadcastLocal(frame)
	if s.opts.Bridge == nil {
		return
	}
	if err := s.opts.Bridge.Publish(ctx, frame); err != nil {
		s.log.Warn("bridge publish failed", zap.Error(err))
	}
}

// DeliverRemote 其他实例转发过来的全局帧，只在本地投递
func (s *Server) DeliverRemote(frame []byte) {
	s.mgr.BroadcastLocal(frame)
}

// ===== REST 侧通知 =====

// Notifier REST handler 用来推送实时事件
type Notifier interface {
	Global(ctx context.Context, event string, payload any)
	Room(ctx context.Context, sessionID, event string, payload any)
	CloseRoom(ctx context.Context, sessionID string) []string
}

func (s *Server) Notifier() Notifier { return notifier{s} }

type notifier struct{ s *Server }

func (n notifier) Global(ctx context.Context, event string, payload any) {
	n.s.BroadcastAll(ctx, event, payload)
}

func (n notifier) Room(_ context.Context, sessionID, event string, payload any) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		n.s.log.Error("encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}
	n.s.mgr.BroadcastRoom(presence.RoomName(sessionID), "", frame)
}

// CloseRoom session 删除后调用：房间清空并广播新的人数
func (n notifier) CloseRoom(ctx context.Context, sessionID string) []string {
	kicked := n.s.opts.Protocol.ForceCloseRoom(sessionID)
	n.s.BroadcastAll(ctx, presence.EventSessionParticipantUpdate, presence.ParticipantCountPayload{
		SessionID:        sessionID,
		ParticipantCount: 0,
	})
	return kicked
}

// NopNotifier 没有网关时使用（单测、纯 REST 部署）
type NopNotifier struct{}

func (NopNotifier) Global(context.Context, string, any)        {}
func (NopNotifier) Room(context.Context, string, string, any)  {}
func (NopNotifier) CloseRoom(context.Context, string) []string { return nil }

func bgCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
