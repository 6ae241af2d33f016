package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// MiddlewareManager 启动阶段收集全局中间件，最后一次性挂到 Engine 上
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager(mids ...gin.HandlerFunc) *MiddlewareManager {
	return &MiddlewareManager{mids: append([]gin.HandlerFunc(nil), mids...)}
}

// Add 注册中间件，按注册顺序执行
func (m *MiddlewareManager) Add(h ...gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h...)
}

// Clear 清空全部中间件
func (m *MiddlewareManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

func (m *MiddlewareManager) Handlers() []gin.HandlerFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]gin.HandlerFunc(nil), m.mids...)
}

// Install 挂到 Engine 上
func (m *MiddlewareManager) Install(r *gin.Engine) {
	r.Use(m.Handlers()...)
}
