package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PPoker/data/database/mgo/mongoutil"
	"PPoker/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Conn 一条已建立的 mongo 连接
type Conn interface {
	GetDB() *mongo.Database
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

type DialFunc func(ctx context.Context) (Conn, error)

// Dialer 基于 mongoutil 的默认拨号
func Dialer(cfg *mongoutil.Config) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		return mongoutil.NewMongoDB(ctx, cfg)
	}
}

type MongoManager struct {
	mu        sync.RWMutex
	conn      Conn
	dial      DialFunc
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error

	baseBackoff time.Duration
	maxBackoff  time.Duration
	healthEvery time.Duration
	failThresh  int
	log         *zap.Logger
}

func NewManager(dial DialFunc) *MongoManager {
	return &MongoManager{
		dial:        dial,
		readyCh:     make(chan struct{}),
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		healthEvery: 10 * time.Second,
		failThresh:  3,
		log:         logger.Named("mongo"),
	}
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *MongoManager) StartAsync(ctx context.Context) {
	go func() {
		for {
			if !m.connect(ctx) {
				return
			}
			m.healthLoop(ctx) // 返回即掉线，回到连接阶段
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
}

// connect 带退避重试；ctx 结束返回 false
func (m *MongoManager) connect(ctx context.Context) bool {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		c, err := m.dial(ctx)
		if err == nil {
			m.mu.Lock()
			m.conn = c
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			m.log.Info("mongo connected", zap.Int("attempt", attempt))
			return true
		}
		m.lastErr.Store(err)
		m.log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		// 退避 + 抖动
		backoff := m.baseBackoff << attempt
		if backoff > m.maxBackoff {
			backoff = m.maxBackoff
		}
		if j := int64(backoff / 5); j > 0 {
			backoff -= time.Duration(rand.Int63n(j)) / 2
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

func (m *MongoManager) healthLoop(ctx context.Context) {
	fail := 0
	t := time.NewTicker(m.healthEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return
		case <-t.C:
			m.mu.RLock()
			c := m.conn
			m.mu.RUnlock()
			if c == nil {
				return
			}
			if err := c.Ping(ctx); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= m.failThresh {
					m.log.Warn("mongo unhealthy, reconnecting", zap.Error(err))
					m.drop()
					return
				}
				continue
			}
			fail = 0
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.Disconnect(context.Background())
		m.conn = nil
	}
}

// Ready 首次连接成功时会 close；可 select 等待
func (m *MongoManager) Ready() <-chan struct{} { return m.readyCh }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil, false
	}
	return m.conn.GetDB(), true
}

// WaitReady 等到首次连上或 ctx 结束
func (m *MongoManager) WaitReady(ctx context.Context) (*mongo.Database, error) {
	select {
	case <-m.readyCh:
	case <-ctx.Done():
		return nil, fmt.Errorf("mongo not ready: %w (last error: %v)", ctx.Err(), m.Err())
	}
	db, ok := m.TryGetDB()
	if !ok {
		return nil, fmt.Errorf("mongo connection lost")
	}
	return db, nil
}
