// Package notify отправляет пользователям письма о подтверждении адреса.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Verification содержит данные письма с подтверждением адреса.
type Verification struct {
	Email    string
	Token    string
	UserName string
}

// Notifier отправляет письма пользователям.
type Notifier interface {
	SendVerification(ctx context.Context, v Verification) error
}

const verificationSubject = "Verify your email address - SMM Panel"

var verificationTmpl = template.Must(template.New("verification").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #4F46E5;">Verify Your Email Address</h2>
  <p>Hello {{.UserName}},</p>
  <p>Please click the button below to verify your email address:</p>
  <p style="text-align: center; margin: 30px 0;"><a href="{{.Link}}">Verify Email Address</a></p>
  <p>If the button doesn't work, copy and paste this link into your browser:</p>
  <p style="word-break: break-all; color: #6B7280;">{{.Link}}</p>
  <p>This verification link will expire in 24 hours.</p>
  <p>If you didn't create an account with us, please ignore this email.</p>
</div>`))

// VerificationLink строит ссылку подтверждения для сайта siteURL.
func VerificationLink(siteURL, token string) string {
	return strings.TrimRight(siteURL, "/") + "/verify-email?token=" + url.QueryEscape(token)
}

func renderVerification(siteURL string, v Verification) (string, error) {
	var buf bytes.Buffer
	err := verificationTmpl.Execute(&buf, struct {
		UserName string
		Link     string
	}{
		UserName: v.UserName,
		Link:     VerificationLink(siteURL, v.Token),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SMTPConfig содержит параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer отправляет письма через SMTP.
type SMTPMailer struct {
	cfg     SMTPConfig
	siteURL string
	logger  *zap.Logger
	send    sendFunc
}

// NewSMTPMailer создаёт отправителя писем через SMTP.
func NewSMTPMailer(cfg SMTPConfig, siteURL string, logger *zap.Logger) *SMTPMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Sender == "" {
		cfg.Sender = "no-reply@localhost"
	}
	return &SMTPMailer{
		cfg:     cfg,
		siteURL: siteURL,
		logger:  logger,
		send:    smtp.SendMail,
	}
}

// SendVerification отправляет письмо со ссылкой подтверждения.
func (m *SMTPMailer) SendVerification(ctx context.Context, v Verification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := renderVerification(m.siteURL, v)
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.cfg.Sender, v.Email, verificationSubject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	addr := m.cfg.Host + ":" + m.cfg.Port
	if err := m.send(addr, auth, m.cfg.Sender, []string{v.Email}, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", v.Email, err)
	}

	m.logger.Info("verification email sent", zap.String("email", v.Email))
	return nil
}

// LogNotifier пишет письма в лог вместо отправки.
type LogNotifier struct {
	siteURL string
	logger  *zap.Logger
}

// NewLogNotifier создаёт уведомитель, который только логирует письма.
func NewLogNotifier(siteURL string, logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{siteURL: siteURL, logger: logger}
}

// SendVerification логирует факт отправки; ссылка с токеном пишется только на уровне debug.
func (n *LogNotifier) SendVerification(_ context.Context, v Verification) error {
	n.logger.Info("verification email",
		zap.String("to", v.Email),
		zap.String("subject", verificationSubject),
	)
	n.logger.Debug("verification link",
		zap.String("to", v.Email),
		zap.String("verificationURL", VerificationLink(n.siteURL, v.Token)),
	)
	return nil
}
