package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"pointshub/internal/config"

	"gopkg.in/gomail.v2"
)

// Sender 发送一封已组装好的邮件。
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	sender Sender
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		sender: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		logger: logger,
	}
}

// WithSender 替换底层发送器。
func (n *EmailNotifier) WithSender(s Sender) *EmailNotifier {
	n.sender = s
	return n
}

// SendResetToken 发送密码重置令牌。
func (n *EmailNotifier) SendResetToken(ctx context.Context, toEmail, utorid, token string, expiresAt time.Time) error {
	body := buildTokenBody("Password reset",
		"A password reset was requested for", utorid, token, expiresAt)
	return n.send(ctx, toEmail, "[PointsHub] Password reset", body, "reset")
}

// SendActivation 发送账户激活令牌。
func (n *EmailNotifier) SendActivation(ctx context.Context, toEmail, utorid, token string, expiresAt time.Time) error {
	body := buildTokenBody("Activate your account",
		"An account was created for", utorid, token, expiresAt)
	return n.send(ctx, toEmail, "[PointsHub] Activate your account", body, "activation")
}

func (n *EmailNotifier) send(ctx context.Context, toEmail, subject, body, kind string) error {
	if n.cfg.SMTPHost == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email sent", slog.String("to", toEmail), slog.String("kind", kind))
	return nil
}

func buildTokenBody(title, lead, utorid, token string, expiresAt time.Time) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>%s</h2>
    <p>%s <b>%s</b>. Use this token:</p>
    <div style="font-size: 20px; font-weight: bold; font-family: monospace;">%s</div>
    <p>It expires at %s.</p>
  </div>
</body>
</html>`,
		html.EscapeString(title),
		html.EscapeString(lead),
		html.EscapeString(utorid),
		html.EscapeString(token),
		expiresAt.UTC().Format(time.RFC3339))
}
