package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/agrilovers/internal/config"
)

var ErrNotConfigured = errors.New("email: SMTP is not configured")

// Sender отправляет коды входа локального провайдера аутентификации.
type Sender struct {
	cfg *config.SMTPConfig
}

// NewSender возвращает nil, если SMTP не настроен: тогда коды пишутся в лог.
func NewSender(cfg *config.SMTPConfig) *Sender {
	if cfg == nil || cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil
	}
	return &Sender{cfg: cfg}
}

func (s *Sender) message(to, code string) []byte {
	from := s.cfg.FromEmail
	if from == "" {
		from = s.cfg.Username
	}
	var buf bytes.Buffer
	buf.WriteString("From: " + s.cfg.FromName + " <" + from + ">\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: Your Agrilovers sign-in code\r\n")
	buf.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&buf, "Your code: %s\n\nThe code is valid for 5 minutes.", code)
	return buf.Bytes()
}

func (s *Sender) SendOTP(ctx context.Context, to, code string) error {
	if s == nil {
		return ErrNotConfigured
	}
	from := s.cfg.FromEmail
	if from == "" {
		from = s.cfg.Username
	}
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	msg := s.message(to, code)
	done := make(chan error, 1)
	go func() { done <- smtp.SendMail(addr, auth, from, []string{to}, msg) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
