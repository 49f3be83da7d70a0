package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pointshub/internal/api/auth"
	"pointshub/internal/model"
	"pointshub/internal/store"

	"github.com/gin-gonic/gin"
)

const currentUserKey = "currentUser"

// UserLoader resolves the token subject to a stored user.
type UserLoader interface {
	GetUserByUtorid(ctx context.Context, utorid string) (*model.User, error)
	TouchLogin(ctx context.Context, id uint, at time.Time) error
}

// Auth 校验 Bearer JWT，加载用户并写入上下文，同时按 now 记录最近登录时间。
// now 为 nil 时使用 time.Now。
func Auth(secret []byte, users UserLoader, logger *slog.Logger, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			c.Abort()
			return
		}

		utorid, err := auth.ParseToken(secret, strings.TrimSpace(parts[1]))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		user, err := users.GetUserByUtorid(ctx, utorid)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			c.Abort()
			return
		}
		if err != nil {
			logger.Error("load current user failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
			c.Abort()
			return
		}

		at := now()
		if err := users.TouchLogin(ctx, user.ID, at); err != nil {
			logger.Warn("touch login failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
		} else {
			user.LastLogin = &at
			user.Activated = true
		}

		SetCurrentUser(c, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by Auth, or nil.
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

// SetCurrentUser 把 u 记为当前调用者，CurrentUser 随后返回它。
func SetCurrentUser(c *gin.Context, u *model.User) {
	c.Set(currentUserKey, u)
}

// RequireRole 拒绝角色低于 min 的请求。
func RequireRole(min model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if u == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			c.Abort()
			return
		}
		if !u.Role.AtLeast(min) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}
