package presence

import (
	"context"
	"sync"
	"time"

	"PPoker/logger"

	"go.uber.org/zap"
)

// ConnectionRegistry 身份 -> 当前连接。同一身份同时只允许一条登记，Register 是唯一的准入闸门。
// 除 Register 外的操作都是尽力而为的幂等清理，不存在的条目静默忽略。
type ConnectionRegistry interface {
	IsConnected(ctx context.Context, identity string) bool
	Register(ctx context.Context, identity, userID, connID string) (bool, error)
	BindConnection(ctx context.Context, identity, connID string) (previous string, err error)
	RemoveByIdentity(ctx context.Context, identity string)
	RemoveByConnection(ctx context.Context, connID string)
	Touch(ctx context.Context, identity string)
	Info(ctx context.Context, identity string) (Entry, bool)
	Count(ctx context.Context) int
	Stats(ctx context.Context) Stats
	Sweep(ctx context.Context, now time.Time) []string
}

type Entry struct {
	Identity     string    `json:"identity"`
	UserID       string    `json:"userId"`
	ConnID       string    `json:"connId,omitempty"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
}

type Stats struct {
	TotalConnections      int        `json:"totalConnections"`
	ConnectionsWithSocket int        `json:"connectionsWithSocket"`
	AverageSessionMinutes float64    `json:"averageSessionDuration"`
	OldestConnection      *time.Time `json:"oldestConnection"`
}

// ComputeStats 由登记快照算统计，内存和 redis 实现共用
func ComputeStats(entries []Entry, now time.Time) Stats {
	st := Stats{TotalConnections: len(entries)}
	if len(entries) == 0 {
		return st
	}
	var total time.Duration
	oldest := entries[0].LoginTime
	for _, e := range entries {
		if e.ConnID != "" {
			st.ConnectionsWithSocket++
		}
		total += now.Sub(e.LoginTime)
		if e.LoginTime.Before(oldest) {
			oldest = e.LoginTime
		}
	}
	st.AverageSessionMinutes = total.Minutes() / float64(len(entries))
	st.OldestConnection = &oldest
	return st
}

// ===== 内存实现 =====

type MemoryRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*Entry // identity -> entry
	byConn  map[string]string // connID -> identity
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

type RegistryOption func(*MemoryRegistry)

func WithClock(now func() time.Time) RegistryOption {
	return func(r *MemoryRegistry) { r.now = now }
}

func WithInactivityTimeout(d time.Duration) RegistryOption {
	return func(r *MemoryRegistry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewMemoryRegistry(opts ...RegistryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		byID:    make(map[string]*Entry),
		byConn:  make(map[string]string),
		timeout: 30 * time.Minute,
		now:     time.Now,
		log:     logger.Named("registry"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *MemoryRegistry) IsConnected(_ context.Context, identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[identity]
	return ok
}

// Register 检查和写入在同一把写锁内完成
func (r *MemoryRegistry) Register(_ context.Context, identity, userID, connID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[identity]; ok {
		return false, nil
	}
	now := r.now()
	r.byID[identity] = &Entry{
		Identity:     identity,
		UserID:       userID,
		ConnID:       connID,
		LoginTime:    now,
		LastActivity: now,
	}
	if connID != "" {
		r.byConn[connID] = identity
	}
	return true, nil
}

func (r *MemoryRegistry) BindConnection(_ context.Context, identity, connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[identity]
	if !ok {
		return "", nil
	}
	prev := e.ConnID
	if prev != "" && prev != connID {
		delete(r.byConn, prev)
	}
	e.ConnID = connID
	e.LastActivity = r.now()
	if connID != "" {
		r.byConn[connID] = identity
	}
	if prev == connID {
		return "", nil
	}
	return prev, nil
}

func (r *MemoryRegistry) RemoveByIdentity(_ context.Context, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(identity)
}

// RemoveByConnection 只删除当前仍绑定 connID 的条目，被替换掉的旧连接断开不影响新连接
func (r *MemoryRegistry) RemoveByConnection(_ context.Context, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if e, ok := r.byID[identity]; ok && e.ConnID == connID {
		delete(r.byID, identity)
	}
}

func (r *MemoryRegistry) removeLocked(identity string) {
	e, ok := r.byID[identity]
	if !ok {
		return
	}
	if e.ConnID != "" {
		delete(r.byConn, e.ConnID)
	}
	delete(r.byID, identity)
}

func (r *MemoryRegistry) Touch(_ context.Context, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[identity]; ok {
		e.LastActivity = r.now()
	}
}

func (r *MemoryRegistry) Info(_ context.Context, identity string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[identity]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *MemoryRegistry) Count(_ context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *MemoryRegistry) Stats(_ context.Context) Stats {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, *e)
	}
	r.mu.RUnlock()
	return ComputeStats(entries, r.now())
}

// Sweep 清理超过 timeout 未活跃的条目，返回被清理的身份
func (r *MemoryRegistry) Sweep(_ context.Context, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for identity, e := range r.byID {
		if now.Sub(e.LastActivity) > r.timeout {
			r.removeLocked(identity)
			evicted = append(evicted, identity)
		}
	}
	if len(evicted) > 0 {
		r.log.Info("swept inactive registrations", zap.Int("count", len(evicted)), zap.Strings("identities", evicted))
	}
	return evicted
}

// RunSweeper 后台定时清理，ctx 取消后退出
func RunSweeper(ctx context.Context, reg ConnectionRegistry, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			reg.Sweep(ctx, now)
		}
	}
}
