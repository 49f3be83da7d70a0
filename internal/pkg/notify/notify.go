package notify

import (
	"context"
	"time"
)

// Notifier 定义账户相关通知接口。
type Notifier interface {
	// SendResetToken 发送密码重置令牌。
	SendResetToken(ctx context.Context, toEmail, utorid, token string, expiresAt time.Time) error
	// SendActivation 向新注册用户发送激活令牌。
	SendActivation(ctx context.Context, toEmail, utorid, token string, expiresAt time.Time) error
}

// Nop 丢弃所有通知，邮件未配置时使用。
type Nop struct{}

func (Nop) SendResetToken(context.Context, string, string, string, time.Time) error { return nil }

func (Nop) SendActivation(context.Context, string, string, string, time.Time) error { return nil }
