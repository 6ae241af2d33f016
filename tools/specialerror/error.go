package specialerror

import (
	"sync"

	"PPoker/tools/errs"
)

var (
	mu       sync.RWMutex
	handlers []func(err error) *errs.CodeError
)

// AddErrHandler 注册一个把底层错误（驱动、库）翻译成 CodeError 的函数；返回 nil 表示不认识
func AddErrHandler(h func(err error) *errs.CodeError) error {
	if h == nil {
		return errs.New("nil handler")
	}
	mu.Lock()
	handlers = append(handlers, h)
	mu.Unlock()
	return nil
}

// ErrCode 先找错误链里的 CodeError，再依次问注册的 handler，都不认识按 500 处理
func ErrCode(err error) *errs.CodeError {
	if err == nil {
		return nil
	}
	if ce, ok := errs.AsCode(err); ok {
		return ce
	}
	mu.RLock()
	hs := handlers
	mu.RUnlock()
	for _, h := range hs {
		if ce := h(err); ce != nil {
			return ce
		}
	}
	internal := errs.ErrInternal
	return &internal
}
