package gateway

import (
	"errors"
	"net"
	"sync"
	"time"

	"PPoker/logger"
	"PPoker/service/presence"
	"PPoker/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	SendQueueSize int              // 每连接发送队列长度
	WriteTimeout  time.Duration    // 单次写超时
	PingInterval  time.Duration    // 服务端 ping 周期
	IdleTTL       time.Duration    // 超过这个时间没有心跳（pong/事件）的连接会被关闭
	SweepEvery    time.Duration    // 清理周期
	Clock         func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 3 * c.PingInterval
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = c.PingInterval
	}
}

var ErrConnGone = errors.New("connection gone")

// ===== 数据结构 =====

type WsConn struct {
	SnowID string
	State  *presence.ConnState // 只由该连接的读协程修改

	Conn   *websocket.Conn
	Remote net.Addr

	CreatedAt time.Time
	SendChan  chan []byte // 每连接独立发送队列，由写协程消费

	mu        sync.Mutex
	heartbeat time.Time // 最近心跳时间

	closeOnce sync.Once
	done      chan struct{}
}

func NewWsConn(snowID string, identity presence.Identity, conn *websocket.Conn, queue int, now time.Time) *WsConn {
	w := &WsConn{
		SnowID:    snowID,
		State:     &presence.ConnState{ConnID: snowID, Identity: identity},
		Conn:      conn,
		CreatedAt: now,
		SendChan:  make(chan []byte, queue),
		heartbeat: now,
		done:      make(chan struct{}),
	}
	if conn != nil {
		w.Remote = conn.RemoteAddr()
	}
	return w
}

func (w *WsConn) Identity() presence.Identity { return w.State.Identity }

// Close 通知写协程发 Close 帧并关闭底层连接；可重复调用
func (w *WsConn) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *WsConn) Done() <-chan struct{} { return w.done }

func (w *WsConn) touch(now time.Time) {
	w.mu.Lock()
	w.heartbeat = now
	w.mu.Unlock()
}

func (w *WsConn) lastHeartbeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heartbeat
}

// enqueue 不阻塞；队列满时关闭连接，客户端重连后 resync
func (w *WsConn) enqueue(data []byte) error {
	select {
	case <-w.done:
		return ErrConnGone
	default:
	}
	select {
	case w.SendChan <- data:
		return nil
	case <-w.done:
		return ErrConnGone
	default:
		w.Close()
		return errSlowConsumer
	}
}

var errSlowConsumer = errors.New("send queue full")

// ConnManager 本实例的在线连接 + 房间订阅表，负责消息投递
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*WsConn // snowID -> wsConn
	rooms  *presence.RoomIndex

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	gwId     string // 节点ID
	log      *zap.Logger
}

// ===== 构造/关闭 =====

func NewConnManager(conf ManagerConf, gwId string, rooms *presence.RoomIndex) *ConnManager {
	conf.norm()
	if rooms == nil {
		rooms = presence.NewRoomIndex()
	}
	return &ConnManager{
		bySnow: make(map[string]*WsConn),
		rooms:  rooms,
		conf:   conf,
		gwId:   gwId,
		stopCh: make(chan struct{}),
		log:    logger.Named("conn-manager"),
	}
}

// Start 启动空闲连接清理协程
func (m *ConnManager) Start() {
	safe.SafeGo(m.sweeper)
}

func (m *ConnManager) GwId() string { return m.gwId }

func (m *ConnManager) Conf() ManagerConf { return m.conf }

func (m *ConnManager) Rooms() *presence.RoomIndex { return m.rooms }

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.RLock()
	all := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		all = append(all, w)
	}
	m.mu.RUnlock()
	for _, w := range all {
		w.Close()
	}
}

func (m *ConnManager) Add(w *WsConn) error {
	if w == nil || w.SnowID == "" {
		return errors.New("snowID/conn empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySnow[w.SnowID]; exists {
		return errors.New("snowID exists")
	}
	m.bySnow[w.SnowID] = w
	return nil
}

func (m *ConnManager) Get(snowID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySnow[snowID]
	return w, ok
}

// Remove 只移除索引；关闭由调用方负责
func (m *ConnManager) Remove(snowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySnow, snowID)
}

// Kick 关闭指定连接；读协程退出时会走正常的断开流程
func (m *ConnManager) Kick(snowID string) bool {
	w, ok := m.Get(snowID)
	if !ok {
		return false
	}
	w.Close()
	return true
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Heartbeat 刷新某条连接的心跳
func (m *ConnManager) Heartbeat(snowID string) {
	if w, ok := m.Get(snowID); ok {
		w.touch(m.conf.Clock())
	}
}

// AttachPongHandler 绑定 gorilla/websocket 的 PongHandler，自动心跳续期
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, snowID string) {
	if conn == nil || snowID == "" {
		return
	}
	conn.SetPongHandler(func(string) error {
		m.Heartbeat(snowID)
		return nil
	})
}

// ===== 投递 =====

// SendTo 发给单个连接；连接已不在时返回 ErrConnGone，调用方记录后忽略
func (m *ConnManager) SendTo(snowID string, data []byte) error {
	w, ok := m.Get(snowID)
	if !ok {
		return ErrConnGone
	}
	return w.enqueue(data)
}

// BroadcastRoom 发给房间里的所有连接，except 非空时跳过该连接
func (m *ConnManager) BroadcastRoom(room, except string, data []byte) int {
	n := 0
	for _, sid := range m.rooms.ConnIDs(room) {
		if sid == except {
			continue
		}
		if err := m.SendTo(sid, data); err != nil {
			m.logSendErr(sid, err)
			continue
		}
		n++
	}
	return n
}

// BroadcastLocal 发给本实例的所有连接
func (m *ConnManager) BroadcastLocal(data []byte) int {
	m.mu.RLock()
	all := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		all = append(all, w)
	}
	m.mu.RUnlock()

	n := 0
	for _, w := range all {
		if err := w.enqueue(data); err != nil {
			m.logSendErr(w.SnowID, err)
			continue
		}
		n++
	}
	return n
}

func (m *ConnManager) logSendErr(snowID string, err error) {
	if errors.Is(err, errSlowConsumer) {
		m.log.Warn("send queue full, connection closed", zap.String("snowID", snowID))
		return
	}
	m.log.Debug("send skipped", zap.String("snowID", snowID), zap.Error(err))
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

// sweepOnce 关闭心跳超时的连接，返回被关闭的 snowID
func (m *ConnManager) sweepOnce(now time.Time) []string {
	var expired []*WsConn
	m.mu.RLock()
	for _, w := range m.bySnow {
		if now.Sub(w.lastHeartbeat()) > m.conf.IdleTTL {
			expired = append(expired, w)
		}
	}
	m.mu.RUnlock()

	// 锁外关闭，索引由读协程退出时清理
	out := make([]string, 0, len(expired))
	for _, w := range expired {
		w.Close()
		out = append(out, w.SnowID)
	}
	if len(out) > 0 {
		m.log.Info("closed idle connections", zap.Strings("snowIDs", out))
	}
	return out
}
