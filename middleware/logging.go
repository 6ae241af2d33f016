package middleware

import (
	"time"

	"PPoker/logger"
	"PPoker/tools/apiresp"
	"PPoker/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 每个请求一行 access 日志
func RequestLog() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" {
			return
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
			zap.String("ip", c.ClientIP()))
	}
}

// Recovery handler panic 时回 500，进程不退出
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				apiresp.Error(c, errs.ErrPanic(r))
			}
		}()
		c.Next()
	}
}
