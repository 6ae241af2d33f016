package security

import (
	"strings"

	"PPoker/tools/apiresp"
	"PPoker/tools/errs"
	sec "PPoker/tools/security"

	"github.com/gin-gonic/gin"
)

// context key，后续 handler 统一用这几个 key 读取
const (
	CtxUserID   = "userId"
	CtxUsername = "username"
	CtxToken    = "token"
)

type Options struct {
	JWT        sec.Options
	CookieName string // 默认 "token"
	// 兼容 Authorization: Bearer xxx
	EnableAuthorizationBearer bool
}

func DefaultOptions(jwt sec.Options) *Options {
	return &Options{
		JWT:                       jwt,
		CookieName:                "token",
		EnableAuthorizationBearer: true,
	}
}

// TokenFrom 先取 cookie，再取 Bearer 头
func TokenFrom(c *gin.Context, opts *Options) string {
	if v, err := c.Cookie(opts.CookieName); err == nil && v != "" {
		return v
	}
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				return strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	return ""
}

func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFrom(c, opts)
		if token == "" {
			apiresp.Error(c, errs.ErrTokenInvalid.WrapMsg("Access denied. No token provided."))
			return
		}
		claims, err := sec.Verify(opts.JWT, token)
		if err != nil {
			apiresp.Error(c, err)
			return
		}
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUsername, claims.Username)
		c.Set(CtxToken, token)
		c.Next()
	}
}

// Current 取当前登录用户；未经过 Middleware 时返回空串
func Current(c *gin.Context) (userID, username string) {
	return c.GetString(CtxUserID), c.GetString(CtxUsername)
}
