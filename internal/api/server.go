package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pointshub/internal/api/auth"
	"pointshub/internal/api/middleware"
	"pointshub/internal/api/validate"
	"pointshub/internal/config"
	"pointshub/internal/model"
	"pointshub/internal/pkg/notify"
	"pointshub/internal/pkg/ratelimit"
	"pointshub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// UserStore 用户相关的持久化操作。
type UserStore interface {
	GetUserByUtorid(ctx context.Context, utorid string) (*model.User, error)
	GetUserByID(ctx context.Context, id uint) (*model.User, error)
	GetUserWithPromotions(ctx context.Context, utorid string) (*model.User, error)
	GetUserByResetToken(ctx context.Context, token string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	ListUsers(ctx context.Context, f store.UserFilter) ([]model.User, int64, error)
	UpdateUser(ctx context.Context, id uint, updates map[string]any) (*model.User, error)
	TouchLogin(ctx context.Context, id uint, at time.Time) error
	SetResetToken(ctx context.Context, id uint, token string, expiresAt time.Time) error
	CompleteReset(ctx context.Context, id uint, passwordHash string) error
	SetPassword(ctx context.Context, id uint, passwordHash string) error
	EnsureSuperuser(ctx context.Context, u *model.User) error
}

type EventStore interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id uint) (*model.Event, error)
	ListEvents(ctx context.Context, f store.EventFilter) ([]model.Event, int64, error)
	UpdateEvent(ctx context.Context, id uint, updates map[string]any) (*model.Event, error)
	DeleteEvent(ctx context.Context, id uint) error
	AddOrganizer(ctx context.Context, eventID, userID uint, now time.Time) error
	RemoveOrganizer(ctx context.Context, eventID, userID uint) error
	AddGuest(ctx context.Context, eventID, userID uint, now time.Time) (*model.Event, error)
	RemoveGuest(ctx context.Context, eventID, userID uint) error
}

type PromotionStore interface {
	CreatePromotion(ctx context.Context, p *model.Promotion) error
	GetPromotion(ctx context.Context, id uint) (*model.Promotion, error)
	PromotionsByID(ctx context.Context, ids []uint) ([]model.Promotion, error)
	ActiveAutomaticPromotions(ctx context.Context, now time.Time) ([]model.Promotion, error)
	ListPromotions(ctx context.Context, f store.PromotionFilter) ([]model.Promotion, int64, error)
}

type TransactionStore interface {
	RecordTransaction(ctx context.Context, r store.Record) error
	GetTransaction(ctx context.Context, id uint) (*model.Transaction, error)
	ListTransactions(ctx context.Context, f store.TransactionFilter) ([]model.Transaction, int64, error)
}

// Store 汇总 handler 需要的全部持久化能力，*store.Store 实现了它。
type Store interface {
	UserStore
	EventStore
	PromotionStore
	TransactionStore
}

// Deps 是 Server 的外部依赖。DB 仅用于健康检查，Redis 还会随 Close 关闭。
type Deps struct {
	Store        Store
	DB           *gorm.DB
	Redis        *redis.Client
	Notifier     notify.Notifier
	ResetLimiter ratelimit.Limiter
	LoginLimiter ratelimit.Limiter
}

// Server 封装了 API 服务所需的依赖和路由处理。
type Server struct {
	cfg          *config.Config
	logger       *slog.Logger
	db           *gorm.DB
	rdb          *redis.Client
	router       *gin.Engine
	store        Store
	auth         *auth.Handler
	notifier     notify.Notifier
	loginLimiter ratelimit.Limiter
	now          func() time.Time
}

// NewServer 组装路由。连接的建立与迁移由调用方完成。
func NewServer(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	r := gin.New()
	// 默认不信任任何代理，ClientIP 只取连接地址，限流不能被 X-Forwarded-For 绕过
	if err := r.SetTrustedProxies(cfg.App.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", slog.String("error", err.Error()))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		db:           deps.DB,
		rdb:          deps.Redis,
		router:       r,
		store:        deps.Store,
		notifier:     notifier,
		loginLimiter: deps.LoginLimiter,
		now:          time.Now,
		auth: auth.NewHandler(deps.Store, deps.ResetLimiter, notifier, logger, auth.Options{
			Secret:   cfg.Security.JWTSecret,
			TokenTTL: cfg.App.TokenTTL,
			ResetTTL: cfg.App.ResetTokenTTL,
		}),
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// SetClock overrides the time source of the server and its auth handler.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
	s.auth.SetClock(now)
}

// Close 关闭缓存连接。数据库连接归 store 所有，由调用方关闭。
func (s *Server) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)
	s.router.Static("/uploads", s.cfg.App.UploadDir)

	s.router.POST("/auth/tokens", middleware.RateLimit(s.loginLimiter, "login", s.logger), s.auth.Tokens)
	s.router.POST("/auth/resets", s.auth.RequestReset)
	s.router.POST("/auth/resets/:resetToken", s.auth.CompleteReset)

	authed := s.router.Group("/")
	authed.Use(middleware.Auth(s.auth.Secret(), s.store, s.logger, func() time.Time { return s.now() }))

	cashier := middleware.RequireRole(model.RoleCashier)
	manager := middleware.RequireRole(model.RoleManager)

	authed.POST("/users", cashier, s.handleCreateUser)
	authed.GET("/users", manager, s.handleListUsers)
	authed.GET("/users/me", s.handleGetMe)
	authed.PATCH("/users/me", s.handleUpdateMe)
	authed.PATCH("/users/me/password", s.handleChangePassword)
	authed.GET("/users/:userId", cashier, s.handleGetUser)
	authed.PATCH("/users/:userId", manager, s.handleUpdateUser)

	authed.POST("/events", manager, s.handleCreateEvent)
	authed.GET("/events", s.handleListEvents)
	authed.GET("/events/:eventId", s.handleGetEvent)
	authed.PATCH("/events/:eventId", s.handleUpdateEvent)
	authed.DELETE("/events/:eventId", manager, s.handleDeleteEvent)
	authed.POST("/events/:eventId/organizers", manager, s.handleAddOrganizer)
	authed.DELETE("/events/:eventId/organizers/:userId", manager, s.handleRemoveOrganizer)
	authed.POST("/events/:eventId/guests", s.handleAddGuest)
	authed.POST("/events/:eventId/guests/me", s.handleJoinEvent)
	authed.DELETE("/events/:eventId/guests/me", s.handleLeaveEvent)
	authed.GET("/events/:eventId/guests/export", s.handleExportGuests)
	authed.DELETE("/events/:eventId/guests/:userId", manager, s.handleRemoveGuest)
	authed.GET("/events/:eventId/calendar", s.handleEventCalendar)

	authed.POST("/promotions", manager, s.handleCreatePromotion)
	authed.GET("/promotions", s.handleListPromotions)
	authed.GET("/promotions/:promotionId", s.handleGetPromotion)

	authed.POST("/transactions", cashier, s.handleCreateTransaction)
	authed.GET("/transactions", manager, s.handleListTransactions)
	authed.GET("/transactions/:transactionId", manager, s.handleGetTransaction)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// pathID 解析路径中的数字 id，非法时直接返回 404。
func pathID(c *gin.Context, name string) (uint, bool) {
	id, ok := validate.ParseID(c.Param(name))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return id, true
}

func bindPayload(c *gin.Context) (validate.Payload, bool) {
	p, err := validate.FromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return nil, false
	}
	return p, true
}

func pagination(c *gin.Context) (int, int, bool) {
	page, limit, err := validate.Pagination(c.Query("page"), c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page and limit must be positive integers"})
		return 0, 0, false
	}
	return page, limit, true
}

// queryBool 解析可选的布尔查询参数，非法时返回 400。
func queryBool(c *gin.Context, key string) (*bool, bool) {
	v, set, ok := validate.QueryBool(c.Query(key))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return nil, false
	}
	if !set {
		return nil, true
	}
	return &v, true
}

// storeError 把 store 的哨兵错误映射为状态码，其余错误记录日志并返回 500。
func (s *Server) storeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, store.ErrPromotionUsed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "promotion already used"})
	default:
		s.logger.Error(op+" failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func listResponse(count int64, results any) gin.H {
	return gin.H{"count": count, "results": results}
}
