package natsx

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ----- 抽象存储 -----
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expire
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) *memIdem {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// Purge 清理过期 key
func (mi *memIdem) Purge() int {
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	n := 0
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
			n++
		}
	}
	return n
}

// RunPurge 周期清理，ctx 结束时退出
func (mi *memIdem) RunPurge(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mi.Purge()
		}
	}
}

// ----- 从消息头提取 msgID -----
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// ----- 幂等中间件 -----
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				// 无ID时根据 subject+内容构造一个弱ID
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			seen, _ := store.SeenOnce(id, ttl)
			if seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
