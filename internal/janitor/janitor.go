// Package janitor runs periodic housekeeping against the store.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"pointshub/internal/pkg/metrics"

	"github.com/robfig/cron"
)

// TokenStore is the slice of the store the janitor needs.
type TokenStore interface {
	ClearExpiredResetTokens(ctx context.Context, before time.Time) (int64, error)
}

// Janitor 按 cron 表达式定期清理过期的重置令牌。
type Janitor struct {
	store  TokenStore
	logger *slog.Logger
	spec   string
	// 令牌过期后保留 retention 才清除，保留期内完成重置仍返回 410。
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	cron      *cron.Cron
}

// DefaultRetention 过期令牌的默认保留时长。
const DefaultRetention = 24 * time.Hour

// New 创建清理任务。spec 为空时每 10 分钟运行一次，retention 非正时使用 DefaultRetention。
func New(store TokenStore, logger *slog.Logger, spec string, retention time.Duration) *Janitor {
	if spec == "" {
		spec = "@every 10m"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Janitor{
		store:     store,
		logger:    logger,
		spec:      spec,
		retention: retention,
		timeout:   time.Minute,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (j *Janitor) SetClock(now func() time.Time) {
	j.now = now
}

// Start 注册并启动 cron；ctx 取消时自动停止。
func (j *Janitor) Start(ctx context.Context) error {
	c := cron.New()
	if err := c.AddFunc(j.spec, func() { j.RunOnce(ctx) }); err != nil {
		return err
	}
	j.cron = c
	c.Start()
	j.logger.Info("janitor started", slog.String("schedule", j.spec))

	go func() {
		<-ctx.Done()
		c.Stop()
		j.logger.Info("janitor stopped")
	}()
	return nil
}

// RunOnce clears reset tokens that expired more than the retention ago and
// returns how many were cleared.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	n, err := j.store.ClearExpiredResetTokens(runCtx, j.now().Add(-j.retention))
	if err != nil {
		j.logger.Error("janitor failed to clear reset tokens", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		metrics.ResetTokensClearedTotal.Add(float64(n))
		j.logger.Info("janitor cleared expired reset tokens", slog.Int64("count", n))
	}
	return n
}
