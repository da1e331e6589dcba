package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eutiquio/farm-portal-api/pkg/config"
)

// Message is a rendered outbound mail.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// Sender delivers a single message. Implementations make exactly one
// attempt; callers decide what to do with a failure.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail through a plain SMTP relay.
type SMTPSender struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg config.SMTPConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

// Send writes the message to the relay with the configured dial timeout.
// When no credentials are configured the message is logged and dropped,
// which keeps development environments working without a relay.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		s.logger.Warn("smtp credentials not configured, mail not sent",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject))
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, s.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("dial smtp relay %s: %w", addr, err)
	}
	// The timeout bounds the whole exchange, not just the dial; a relay
	// that accepts the connection and goes silent must not hold a worker.
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Quit() //nolint:errcheck

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.FromEmail); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(s.render(msg))); err != nil {
		return fmt.Errorf("write smtp body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish smtp body: %w", err)
	}

	return nil
}

func (s *SMTPSender) render(msg Message) string {
	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail),
		"To":           msg.To,
		"Subject":      msg.Subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=UTF-8",
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}
