package user

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PPoker/logger"
	"PPoker/middleware"
	mwsec "PPoker/middleware/security"
	"PPoker/service/metrics"
	"PPoker/service/presence"
	"PPoker/tools/apiresp"
	"PPoker/tools/errs"
	"PPoker/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	JWT          security.Options
	CookieName   string
	CookieSecure bool
	Registry     presence.ConnectionRegistry
	Audit        Auditor
	Metrics      *metrics.Metrics
}

type Handler struct {
	users Store
	opts  Options
	log   *zap.Logger
}

func NewHandler(users Store, opts Options) *Handler {
	if opts.CookieName == "" {
		opts.CookieName = "token"
	}
	if opts.Audit == nil {
		opts.Audit = NopAuditor{}
	}
	return &Handler{users: users, opts: opts, log: logger.Named("auth")}
}

// Register 挂到 /api 下；auth 为需要登录的接口使用
func (h *Handler) Register(r gin.IRoutes, auth middleware.RouteOpt) {
	middleware.POST(r, "/auth/register", h.SignUp, middleware.RouteOpt{})
	middleware.POST(r, "/auth/login", h.Login, middleware.RouteOpt{})
	middleware.POST(r, "/auth/logout", h.Logout, auth)
	middleware.GET(r, "/auth/me", h.Me, auth)
	middleware.GET(r, "/auth/connections/stats", h.Stats, auth)
	middleware.GET(r, "/auth/audit", h.Audit, auth)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func bindCredentials(c *gin.Context) (credentials, error) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		return req, errs.ErrArgs.WrapMsg(err.Error())
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return req, errs.ErrArgs.WrapMsg("username and password are required")
	}
	return req, nil
}

func (h *Handler) setCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.opts.CookieName, token, int(h.opts.JWT.TTL/time.Second), "/", "", h.opts.CookieSecure, true)
}

func (h *Handler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.opts.CookieName, "", -1, "/", "", h.opts.CookieSecure, true)
}

func (h *Handler) audit(ctx context.Context, e AuditEvent) {
	if err := h.opts.Audit.Record(ctx, e); err != nil {
		h.log.Warn("audit record failed", zap.String("action", e.Action), zap.Error(err))
	}
}

func (h *Handler) SignUp(c *gin.Context) {
	req, err := bindCredentials(c)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	if n := len([]rune(req.Username)); n < 3 || n > 30 {
		apiresp.Error(c, errs.ErrArgs.WrapMsg("username must be 3-30 characters"))
		return
	}
	if len(req.Password) < 6 {
		apiresp.Error(c, errs.ErrArgs.WrapMsg("password must be at least 6 characters"))
		return
	}
	hash, err := security.HashPassword(req.Password)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	u := &User{Username: req.Username, PasswordHash: hash}
	if err := h.users.Create(c.Request.Context(), u); err != nil {
		apiresp.Error(c, err)
		return
	}
	token, _, err := security.Generate(h.opts.JWT, u.IDHex(), u.Username)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	h.setCookie(c, token)
	c.JSON(http.StatusCreated, gin.H{"message": "User created", "user": u.public()})
}

// Login 密码校验通过后先占在线登记，占不到说明账号已在别处在线
func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	req, err := bindCredentials(c)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	u, err := h.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errs.ErrRecordNotFound.Is(err) {
			err = errs.ErrTokenInvalid.WrapMsg("Invalid username or password")
		}
		apiresp.Error(c, err)
		return
	}
	if !security.CheckPassword(u.PasswordHash, req.Password) {
		apiresp.Error(c, errs.ErrTokenInvalid.WrapMsg("Invalid username or password"))
		return
	}

	if h.opts.Registry != nil {
		ok, err := h.opts.Registry.Register(ctx, u.Username, u.IDHex(), "")
		if err != nil {
			apiresp.Error(c, err)
			return
		}
		if !ok {
			h.opts.Metrics.RecordConflict()
			h.audit(ctx, AuditEvent{UserID: u.IDHex(), Username: u.Username, Action: ActionConflict, RemoteAddr: c.ClientIP()})
			h.log.Info("login rejected, already connected", zap.String("username", u.Username))
			apiresp.Error(c, errs.ErrAlreadyConnected.WrapMsg("This user is already connected from another session", "username", u.Username))
			return
		}
	}

	token, exp, err := security.Generate(h.opts.JWT, u.IDHex(), u.Username)
	if err != nil {
		if h.opts.Registry != nil {
			h.opts.Registry.RemoveByIdentity(ctx, u.Username)
		}
		apiresp.Error(c, err)
		return
	}
	if err := h.users.TouchLogin(ctx, u.ID, time.Now()); err != nil {
		h.log.Warn("touch login failed", zap.String("username", u.Username), zap.Error(err))
	}
	h.audit(ctx, AuditEvent{
		UserID:     u.IDHex(),
		Username:   u.Username,
		Action:     ActionLogin,
		RemoteAddr: c.ClientIP(),
		TokenHash:  security.HashToken(token),
	})
	h.setCookie(c, token)
	c.JSON(http.StatusOK, gin.H{
		"message":   "Login successful",
		"user":      u.public(),
		"token":     token,
		"expiresAt": exp,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	uid, uname := mwsec.Current(c)
	if h.opts.Registry != nil {
		h.opts.Registry.RemoveByIdentity(ctx, uname)
	}
	h.audit(ctx, AuditEvent{UserID: uid, Username: uname, Action: ActionLogout, RemoteAddr: c.ClientIP()})
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

func (h *Handler) Me(c *gin.Context) {
	uid, uname := mwsec.Current(c)
	c.JSON(http.StatusOK, gin.H{"user": publicUser{ID: uid, Username: uname}})
}

func (h *Handler) Stats(c *gin.Context) {
	if h.opts.Registry == nil {
		c.JSON(http.StatusOK, presence.Stats{})
		return
	}
	c.JSON(http.StatusOK, h.opts.Registry.Stats(c.Request.Context()))
}

func (h *Handler) Audit(c *gin.Context) {
	_, uname := mwsec.Current(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	events, err := h.opts.Audit.Recent(c.Request.Context(), uname, limit)
	if err != nil {
		apiresp.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
