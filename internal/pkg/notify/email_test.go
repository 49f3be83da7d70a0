package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pointshub/internal/config"
	"pointshub/internal/pkg/logger"

	"gopkg.in/gomail.v2"
)

type captureSender struct {
	msgs []*gomail.Message
	err  error
}

func (s *captureSender) DialAndSend(m ...*gomail.Message) error {
	s.msgs = append(s.msgs, m...)
	return s.err
}

func newTestNotifier(sender Sender) *EmailNotifier {
	cfg := &config.EmailConfig{SMTPHost: "smtp.test", SMTPPort: 587, FromEmail: "noreply@test"}
	return NewEmailNotifier(cfg, logger.Discard()).WithSender(sender)
}

func TestEmailNotifier_SendResetToken(t *testing.T) {
	sender := &captureSender{}
	n := newTestNotifier(sender)
	exp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := n.SendResetToken(context.Background(), "john.doe@mail.utoronto.ca", "johndoe1", "tok-123", exp); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sender.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.msgs))
	}
	m := sender.msgs[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "john.doe@mail.utoronto.ca" {
		t.Fatalf("unexpected To: %v", got)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if !strings.Contains(buf.String(), "tok-123") {
		t.Fatalf("token missing from body")
	}
}

func TestEmailNotifier_MissingConfig(t *testing.T) {
	sender := &captureSender{}
	n := NewEmailNotifier(&config.EmailConfig{}, logger.Discard()).WithSender(sender)

	err := n.SendActivation(context.Background(), "a.b@mail.utoronto.ca", "abcdefg", "t", time.Now())
	if err == nil {
		t.Fatalf("expected error for missing config")
	}
	if len(sender.msgs) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestEmailNotifier_SenderError(t *testing.T) {
	sender := &captureSender{err: errors.New("dial refused")}
	n := newTestNotifier(sender)

	err := n.SendActivation(context.Background(), "a.b@mail.utoronto.ca", "abcdefg", "t", time.Now())
	if err == nil || !strings.Contains(err.Error(), "dial refused") {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}
}

func TestBuildTokenBody_Escapes(t *testing.T) {
	body := buildTokenBody("t", "lead", "<script>", "tok", time.Unix(0, 0))
	if strings.Contains(body, "<script>") {
		t.Fatalf("utorid should be escaped")
	}
}
