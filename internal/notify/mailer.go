package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/postika/auth/internal/config"
)

// Sender delivers a single message to an address.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender sends plain-text mail over SMTP.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender builds a sender from config. Auth is skipped when no
// username is configured (local relays, test mailcatchers).
func NewSMTPSender(cfg config.Config) *SMTPSender {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth: auth,
		from: cfg.SMTPFrom,
	}
}

// Send writes the message to the configured relay.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
