package mail

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Mailer delivers account notifications. Delivery failures are reported to
// the caller but must never fail the request that triggered the mail.
type Mailer interface {
	SendWelcome(to, username string) error
}

// LogMailer records outgoing mail on the logger instead of delivering it.
// It is the default when no SMTP relay is configured.
type LogMailer struct {
	Logger *slog.Logger
}

// SendWelcome logs the welcome message that would have been sent.
func (m LogMailer) SendWelcome(to, username string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("welcome mail suppressed (no smtp relay configured)", "to", to, "username", username)
	return nil
}

// SMTPConfig locates the outgoing mail relay.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
	Host     string
}

// SMTPMailer delivers notifications through a plain SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer validates the relay configuration.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("smtp addr is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Host == "" {
		host := cfg.Addr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		cfg.Host = host
	}
	return &SMTPMailer{cfg: cfg}, nil
}

// SendWelcome delivers the registration greeting.
func (m *SMTPMailer) SendWelcome(to, username string) error {
	subject := "Welcome to CirrusDrive"
	body := fmt.Sprintf("Hello %s,\r\n\r\nYour account has been created. You can now sign in and start uploading files.\r\n", username)
	return m.send(to, subject, body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	message := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := smtp.SendMail(m.cfg.Addr, auth, m.cfg.From, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
