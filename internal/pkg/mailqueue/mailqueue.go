package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pointshub/internal/pkg/metrics"
	"pointshub/internal/pkg/notify"
)

// Kind 邮件类型。
type Kind string

const (
	KindReset      Kind = "reset"
	KindActivation Kind = "activation"
)

// Mail 一封待发送的令牌邮件。
type Mail struct {
	Kind      Kind
	To        string
	Utorid    string
	Token     string
	ExpiresAt time.Time
}

// Dispatcher 用固定 worker 池异步投递邮件，请求路径只负责入队。
//
// Dispatcher 本身实现 notify.Notifier，可以直接替换同步的 EmailNotifier。
type Dispatcher struct {
	logger      *slog.Logger
	delegate    notify.Notifier
	workers     int
	sendTimeout time.Duration
	jobs        chan Mail

	// 优雅关闭。mu 保证 Shutdown 关闭 jobs 时没有并发的发送
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	stats dispatcherStats
}

type dispatcherStats struct {
	enqueued atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
	panics   atomic.Int64
}

// Stats 统计信息快照。
type Stats struct {
	Enqueued int64
	Sent     int64
	Failed   int64
	Dropped  int64 // 队列满或已关闭
	Panics   int64
	Queued   int // 尚未被 worker 取走
}

// New 创建 Dispatcher。workers 与 capacity 至少为 1。
func New(logger *slog.Logger, delegate notify.Notifier, workers int, capacity int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Dispatcher{
		logger:      logger,
		delegate:    delegate,
		workers:     workers,
		sendTimeout: 30 * time.Second,
		jobs:        make(chan Mail, capacity),
	}
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("mail worker stopped", slog.Int("worker_id", id))
			return
		case m, ok := <-d.jobs:
			if !ok {
				return
			}
			metrics.MailQueueDepth.Set(float64(len(d.jobs)))
			d.deliver(ctx, m, id)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Mail, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			d.stats.panics.Add(1)
			metrics.MailJobsTotal.WithLabelValues(string(m.Kind), "panic").Inc()
			d.logger.Error("mail job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	var err error
	switch m.Kind {
	case KindReset:
		err = d.delegate.SendResetToken(sendCtx, m.To, m.Utorid, m.Token, m.ExpiresAt)
	case KindActivation:
		err = d.delegate.SendActivation(sendCtx, m.To, m.Utorid, m.Token, m.ExpiresAt)
	default:
		err = fmt.Errorf("unknown mail kind %q", m.Kind)
	}

	if err != nil {
		d.stats.failed.Add(1)
		metrics.MailJobsTotal.WithLabelValues(string(m.Kind), "failed").Inc()
		d.logger.Warn("mail delivery failed",
			slog.Int("worker_id", workerID),
			slog.String("kind", string(m.Kind)),
			slog.String("utorid", m.Utorid),
			slog.String("error", err.Error()))
		return
	}
	d.stats.sent.Add(1)
	metrics.MailJobsTotal.WithLabelValues(string(m.Kind), "sent").Inc()
}

// Enqueue 非阻塞入队，队列满或已关闭时返回 false。
func (d *Dispatcher) Enqueue(m Mail) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.stats.dropped.Add(1)
		d.logger.Warn("mail queue is closed, drop mail", slog.String("kind", string(m.Kind)))
		return false
	}

	select {
	case d.jobs <- m:
		d.stats.enqueued.Add(1)
		metrics.MailQueueDepth.Set(float64(len(d.jobs)))
		return true
	default:
		d.stats.dropped.Add(1)
		metrics.MailJobsTotal.WithLabelValues(string(m.Kind), "dropped").Inc()
		d.logger.Warn("mail queue full, drop mail",
			slog.String("kind", string(m.Kind)),
			slog.Int("capacity", cap(d.jobs)))
		return false
	}
}

// SendResetToken 入队一封重置邮件。
func (d *Dispatcher) SendResetToken(_ context.Context, toEmail, utorid, token string, expiresAt time.Time) error {
	if !d.Enqueue(Mail{Kind: KindReset, To: toEmail, Utorid: utorid, Token: token, ExpiresAt: expiresAt}) {
		return fmt.Errorf("mail queue unavailable")
	}
	return nil
}

// SendActivation 入队一封激活邮件。
func (d *Dispatcher) SendActivation(_ context.Context, toEmail, utorid, token string, expiresAt time.Time) error {
	if !d.Enqueue(Mail{Kind: KindActivation, To: toEmail, Utorid: utorid, Token: token, ExpiresAt: expiresAt}) {
		return fmt.Errorf("mail queue unavailable")
	}
	return nil
}

// Shutdown 拒绝新邮件，等待已入队邮件发送完毕或超时。
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("mail queue already closed")
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("mail queue drained")
		return nil
	case <-time.After(timeout):
		d.logger.Error("mail queue shutdown timeout")
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 获取统计信息快照。
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued: d.stats.enqueued.Load(),
		Sent:     d.stats.sent.Load(),
		Failed:   d.stats.failed.Load(),
		Dropped:  d.stats.dropped.Load(),
		Panics:   d.stats.panics.Load(),
		Queued:   len(d.jobs),
	}
}
