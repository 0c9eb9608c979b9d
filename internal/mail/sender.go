// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package mail

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/samber/oops"
)

// DefaultSMTPTimeout bounds a whole SMTP conversation.
const DefaultSMTPTimeout = 30 * time.Second

// Sender puts a Message on the wire.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// StartTLS upgrades a plain connection; when false the connection is
	// TLS from the first byte (SMTPS).
	StartTLS bool
	Timeout  time.Duration
}

// ConsoleMode reports whether c lacks the credentials needed to send.
func (c SMTPConfig) ConsoleMode() bool {
	return c.Username == "" || c.Password == ""
}

// NewSender returns an SMTPSender, or a ConsoleSender when cfg has no
// credentials.
func NewSender(cfg SMTPConfig, logger *slog.Logger) Sender {
	if cfg.ConsoleMode() {
		return NewConsoleSender(logger)
	}
	return NewSMTPSender(cfg)
}

// SMTPSender sends mail over authenticated, encrypted SMTP.
type SMTPSender struct {
	cfg  SMTPConfig
	now  func() time.Time
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPSender creates an SMTPSender. Empty From and Timeout take defaults.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	d := &net.Dialer{Timeout: cfg.Timeout}
	return &SMTPSender{cfg: cfg, now: time.Now, dial: d.DialContext}
}

// Send delivers msg to its single recipient.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	raw, err := msg.Encode(s.cfg.From, s.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	fail := func(stage string, err error) error {
		return oops.Code("MAIL_SEND_FAILED").
			With("addr", addr).
			With("stage", stage).
			Wrap(err)
	}

	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return fail("dial", err)
	}
	deadline := s.now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close() //nolint:errcheck // deadline error takes precedence
		return fail("deadline", err)
	}

	tlsCfg := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	if !s.cfg.StartTLS {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // handshake error takes precedence
		return fail("greeting", err)
	}
	defer c.Close() //nolint:errcheck // Quit already reported the outcome

	if s.cfg.StartTLS {
		if err := c.StartTLS(tlsCfg); err != nil {
			return fail("starttls", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
		return fail("auth", err)
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fail("mail_from", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fail("rcpt_to", err)
	}
	w, err := c.Data()
	if err != nil {
		return fail("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close() //nolint:errcheck // write error takes precedence
		return fail("data", err)
	}
	if err := w.Close(); err != nil {
		return fail("data", err)
	}
	if err := c.Quit(); err != nil {
		return fail("quit", err)
	}
	return nil
}

// ConsoleSender writes messages to the log instead of sending them. It is
// the development fallback when no SMTP credentials are configured.
type ConsoleSender struct {
	logger *slog.Logger
}

// NewConsoleSender creates a ConsoleSender. A nil logger means slog.Default.
func NewConsoleSender(logger *slog.Logger) *ConsoleSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSender{logger: logger}
}

// Send logs msg.
func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email not sent, console mode",
		"to", msg.To,
		"subject", msg.Subject,
		"text", msg.Text)
	return nil
}
