// Package mail delivers login codes.
package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers one HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPConfig describes an authenticated submission relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to attempt delivery.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

// SMTPSender sends through an SMTP relay with mandatory STARTTLS.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("mail: smtp host and from address are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("mail: from: %w", err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("mail: to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(gomail.TypeTextHTML, htmlBody)

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	c, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("mail: client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them. Dev only.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, to, subject, htmlBody string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("mail.log_only", "to", to, "subject", subject, "body", htmlBody)
	return nil
}

const loginSubject = "Aguardia login code"

// LoginCode renders the login-code message.
func LoginCode(code string) (subject, htmlBody string) {
	return loginSubject, "<p>Your login code is: <b>" + html.EscapeString(code) + "</b></p>"
}
