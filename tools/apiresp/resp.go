package apiresp

import (
	"net/http"

	"PPoker/logger"
	"PPoker/tools/specialerror"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error 按 CodeError 回 http 状态码 + {"code","message"}；5xx 不把细节给客户端
func Error(c *gin.Context, err error) {
	ce := specialerror.ErrCode(err)
	status := ce.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"code": ce.Code, "message": "Internal server error"})
		return
	}
	body := gin.H{"code": ce.Code, "message": ce.Msg}
	if ce.Detail != "" {
		body["detail"] = ce.Detail
	}
	c.AbortWithStatusJSON(status, body)
}
