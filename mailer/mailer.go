// Package mailer sends the one-time verification codes used during signup.
// The dev-mode mailer logs codes instead of sending, so local development
// needs no SMTP server.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/chatmate-app/chatmate/server/config"
)

type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// New picks the mailer implementation from config.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.DevMode || cfg.SMTPAddr == "" {
		return &logMailer{logger: logger}
	}
	return &smtpMailer{cfg: cfg, logger: logger}
}

type smtpMailer struct {
	cfg    config.MailConfig
	logger *zap.Logger
}

func (m *smtpMailer) SendOTP(_ context.Context, to, code string) error {
	host := m.cfg.SMTPAddr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, host)
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your verification code\r\n\r\n"+
		"Your verification code is %s. It expires in a few minutes.\r\n",
		m.cfg.From, to, code)

	if err := smtp.SendMail(m.cfg.SMTPAddr, auth, m.cfg.From, []string{to}, []byte(body)); err != nil {
		return fmt.Errorf("send otp mail: %w", err)
	}
	m.logger.Info("otp mail sent", zap.String("to", to))
	return nil
}

type logMailer struct {
	logger *zap.Logger
}

func (m *logMailer) SendOTP(_ context.Context, to, code string) error {
	m.logger.Info("otp code (dev mode)",
		zap.String("to", to),
		zap.String("code", code))
	return nil
}
