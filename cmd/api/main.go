package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pointshub/internal/api"
	"pointshub/internal/config"
	"pointshub/internal/janitor"
	"pointshub/internal/pkg/logger"
	"pointshub/internal/pkg/mailqueue"
	"pointshub/internal/pkg/metrics"
	"pointshub/internal/pkg/notify"
	"pointshub/internal/pkg/ratelimit"
	"pointshub/internal/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// main 是积分服务的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志
// 2. 连接 MySQL 与 Redis，执行迁移
// 3. 启动邮件队列与过期令牌清理任务
// 4. 启动 HTTP 服务并在收到信号时优雅退出
func main() {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.MySQL.DSN)
	if err != nil {
		appLogger.Error("connect mysql failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := store.Migrate(db); err != nil {
		appLogger.Error("migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	st := store.New(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		appLogger.Error("connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cancelPing()

	metrics.InitMetrics(cfg.App.MailWorkers)

	var delegate notify.Notifier = notify.Nop{}
	if cfg.Email.Enabled() {
		delegate = notify.NewEmailNotifier(&cfg.Email, appLogger)
	} else {
		appLogger.Warn("smtp not configured, emails are disabled")
	}
	mailer := mailqueue.New(appLogger, delegate, cfg.App.MailWorkers, cfg.App.MailQueueCapacity)
	// 由 Shutdown 关闭队列后退出，不跟随信号上下文
	mailer.Start(context.Background())

	if err := janitor.New(st, appLogger, cfg.App.JanitorSpec, cfg.App.ResetTokenRetention).Start(ctx); err != nil {
		appLogger.Error("start janitor failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.App.UploadDir, 0o755); err != nil {
		appLogger.Error("create upload dir failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := api.NewServer(cfg, appLogger, api.Deps{
		Store:        st,
		DB:           st.DB(),
		Redis:        rdb,
		Notifier:     mailer,
		ResetLimiter: ratelimit.NewWindow(rdb, "reset", cfg.App.ResetCooldown),
		LoginLimiter: ratelimit.NewTokenBucket(rdb, appLogger, "login", cfg.App.LoginRateLimit, cfg.App.LoginRateBurst),
	})
	if err := srv.SeedSuperuser(ctx); err != nil {
		appLogger.Error("seed superuser failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down api server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := mailer.Shutdown(5 * time.Second); err != nil {
		appLogger.Warn("mail queue not drained", slog.String("error", err.Error()))
	}
	stats := mailer.Stats()
	appLogger.Info("mail queue stopped",
		slog.Int64("enqueued", stats.Enqueued),
		slog.Int64("sent", stats.Sent),
		slog.Int64("failed", stats.Failed),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("panics", stats.Panics),
	)
	if err := srv.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
	if err := st.Close(); err != nil {
		appLogger.Error("close mysql failed", slog.String("error", err.Error()))
	}
}
