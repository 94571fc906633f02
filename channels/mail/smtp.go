// Package mail delivers OTP codes by email over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

var ErrNotConfigured = errors.New("mail: smtp host or sender missing")

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Subject  string
	// Body must contain exactly one %s for the code.
	Body string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender implements goOTP.Channel. It uses STARTTLS through
// smtp.SendMail when the server offers it.
type SMTPSender struct {
	cfg  Config
	send sendFunc
}

func NewSMTPSender(cfg Config) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Subject == "" {
		cfg.Subject = "Your verification code"
	}
	if cfg.Body == "" {
		cfg.Body = "Your verification code is %s. It expires in a few minutes."
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

// SendCode blocks until the server accepted the message or ctx is done.
// smtp.SendMail cannot be interrupted, so a cancelled send may still land.
func (s *SMTPSender) SendCode(ctx context.Context, email, code string) error {
	if s.cfg.Host == "" || s.cfg.From == "" {
		return ErrNotConfigured
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	msg := s.message(email, code)

	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.cfg.From, []string{email}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTPSender) message(to, code string) []byte {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", s.cfg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, s.cfg.Body, code)
	b.WriteString("\r\n")
	return []byte(b.String())
}
