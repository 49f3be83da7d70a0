package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pointshub/internal/api/validate"
	"pointshub/internal/model"
	"pointshub/internal/pkg/metrics"
	"pointshub/internal/pkg/notify"
	"pointshub/internal/pkg/ratelimit"
	"pointshub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the persistence the auth endpoints need.
type UserStore interface {
	GetUserByUtorid(ctx context.Context, utorid string) (*model.User, error)
	GetUserByResetToken(ctx context.Context, token string) (*model.User, error)
	SetResetToken(ctx context.Context, id uint, token string, expiresAt time.Time) error
	CompleteReset(ctx context.Context, id uint, passwordHash string) error
}

// Options 令牌相关配置。
type Options struct {
	Secret   string
	TokenTTL time.Duration
	ResetTTL time.Duration
}

// Handler 提供登录与密码重置接口。
type Handler struct {
	users    UserStore
	resets   ratelimit.Limiter
	notifier notify.Notifier
	logger   *slog.Logger
	secret   []byte
	tokenTTL time.Duration
	resetTTL time.Duration
	now      func() time.Time
}

// NewHandler 创建 Auth Handler。resets 为 nil 时不做频控。
func NewHandler(users UserStore, resets ratelimit.Limiter, notifier notify.Notifier, logger *slog.Logger, opts Options) *Handler {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 7 * 24 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Handler{
		users:    users,
		resets:   resets,
		notifier: notifier,
		logger:   logger,
		secret:   []byte(opts.Secret),
		tokenTTL: opts.TokenTTL,
		resetTTL: opts.ResetTTL,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// Secret returns the signing key shared with the auth middleware.
func (h *Handler) Secret() []byte {
	return h.secret
}

// Tokens 校验 utorid 与密码并签发 JWT。
func (h *Handler) Tokens(c *gin.Context) {
	p, err := validate.FromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	utorid, ok := p.String("utorid")
	if !ok || utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid is required"})
		return
	}
	password, ok := p.String("password")
	if !ok || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	user, err := h.users.GetUserByUtorid(c.Request.Context(), utorid)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.logger.Error("lookup user failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup user failed"})
		return
	}
	if user.Password == "" || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, exp, err := IssueToken(h.secret, user.Utorid, h.now(), h.tokenTTL)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	h.logger.Info("user logged in", slog.String("utorid", utorid), slog.String("role", string(user.Role)))
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": exp})
}

// RequestReset 生成重置令牌。同一地址在冷却期内重复请求返回 429。
func (h *Handler) RequestReset(c *gin.Context) {
	p, err := validate.FromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	utorid, ok := p.String("utorid")
	if !ok || utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid is required"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetUserByUtorid(ctx, utorid)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.logger.Error("lookup user failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup user failed"})
		return
	}

	if h.resets != nil {
		allowed, retry, err := h.resets.Allow(ctx, c.ClientIP())
		if err != nil {
			// 限流依赖不可用时放行
			h.logger.Warn("reset limiter failed", slog.String("error", err.Error()))
		} else if !allowed {
			metrics.RateLimitedTotal.WithLabelValues("reset").Inc()
			c.Header("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
	}

	token := uuid.NewString()
	exp := h.now().Add(h.resetTTL)
	if err := h.users.SetResetToken(ctx, user.ID, token, exp); err != nil {
		h.logger.Error("save reset token failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save reset token failed"})
		return
	}
	if err := h.notifier.SendResetToken(ctx, user.Email, user.Utorid, token, exp); err != nil {
		h.logger.Warn("queue reset email failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
	}

	h.logger.Info("reset token issued", slog.String("utorid", utorid))
	c.JSON(http.StatusAccepted, gin.H{"expiresAt": exp, "resetToken": token})
}

// CompleteReset 使用重置令牌设置新密码并清除令牌。
func (h *Handler) CompleteReset(c *gin.Context) {
	p, err := validate.FromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	utorid, ok := p.String("utorid")
	if !ok || utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid is required"})
		return
	}
	password, ok := p.String("password")
	if !ok || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	if !validate.Password(password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be 8-20 characters with upper, lower, digit and special character"})
		return
	}

	ctx := c.Request.Context()
	holder, err := h.users.GetUserByResetToken(ctx, c.Param("resetToken"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "reset token not found"})
		return
	}
	if err != nil {
		h.logger.Error("lookup reset token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup reset token failed"})
		return
	}
	user, err := h.users.GetUserByUtorid(ctx, utorid)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.logger.Error("lookup user failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup user failed"})
		return
	}
	if holder.ID != user.ID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "reset token does not belong to this user"})
		return
	}
	if holder.ExpiresAt == nil || h.now().After(*holder.ExpiresAt) {
		c.JSON(http.StatusGone, gin.H{"error": "reset token expired"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if err := h.users.CompleteReset(ctx, user.ID, string(hash)); err != nil {
		h.logger.Error("complete reset failed", slog.String("utorid", utorid), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "complete reset failed"})
		return
	}
	h.logger.Info("password reset", slog.String("utorid", utorid))
	c.JSON(http.StatusOK, gin.H{"message": "password reset"})
}
