package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按路由与状态码统计请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointshub",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration 请求耗时分布。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pointshub",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// TransactionsTotal 按类型统计已记录的交易。
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointshub",
		Name:      "transactions_total",
		Help:      "Recorded transactions by type and suspicious flag.",
	}, []string{"type", "suspicious"})

	// PointsCreditedTotal 实际计入余额的积分（调整为负时不计）。
	PointsCreditedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointshub",
		Name:      "points_credited_total",
		Help:      "Points credited to balances by transaction type.",
	}, []string{"type"})

	// RateLimitedTotal 被限流拒绝的请求。
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointshub",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a limiter.",
	}, []string{"limiter"})

	// MailJobsTotal 邮件任务结果。
	MailJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointshub",
		Name:      "mail_jobs_total",
		Help:      "Mail jobs by kind and outcome.",
	}, []string{"kind", "outcome"})

	// MailQueueDepth 当前排队中的邮件数。
	MailQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pointshub",
		Name:      "mail_queue_depth",
		Help:      "Mail jobs waiting for a worker.",
	})

	// MailWorkers 邮件 worker 数量。
	MailWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pointshub",
		Name:      "mail_workers",
		Help:      "Configured mail workers.",
	})

	// ResetTokensClearedTotal 清理任务移除的过期令牌数。
	ResetTokensClearedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pointshub",
		Name:      "reset_tokens_cleared_total",
		Help:      "Expired reset tokens cleared by the janitor.",
	})
)

var once sync.Once

// InitMetrics 注册所有指标，可重复调用。
func InitMetrics(mailWorkers int) {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			TransactionsTotal,
			PointsCreditedTotal,
			RateLimitedTotal,
			MailJobsTotal,
			MailQueueDepth,
			MailWorkers,
			ResetTokensClearedTotal,
		)
	})
	MailWorkers.Set(float64(mailWorkers))
}
