package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouteOpt 路由选项；Auth 为 nil 表示公开接口
type RouteOpt struct {
	Auth gin.HandlerFunc
}

func handle(r gin.IRoutes, method, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Auth != nil {
		r.Handle(method, path, opt.Auth, handler)
		return
	}
	r.Handle(method, path, handler)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodGet, path, handler, opt)
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodPost, path, handler, opt)
}

func PUT(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodPut, path, handler, opt)
}

func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodDelete, path, handler, opt)
}
