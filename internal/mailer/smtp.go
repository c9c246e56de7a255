package mailer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTP sends through a plain SMTP relay.
type SMTP struct {
	addr string
	host string
	auth smtp.Auth
	from string
	name string
}

func newSMTP(cfg Config) (*SMTP, error) {
	host := strings.TrimSpace(cfg.SMTPHost)
	if host == "" {
		return nil, errors.New("mail.smtp.host is required for smtp")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, errors.New("mail.sender_email is required for smtp")
	}
	port := cfg.SMTPPort
	if port <= 0 {
		port = 587
	}
	s := &SMTP{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		host: host,
		from: cfg.SenderEmail,
		name: cfg.SenderName,
	}
	if cfg.SMTPUsername != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host)
	}
	return s, nil
}

// Send blocks until the relay accepts the message. net/smtp has no context
// support, so cancellation is only checked before dialing.
func (s *SMTP) Send(ctx context.Context, m Message) (Receipt, error) {
	if err := m.validate(); err != nil {
		return Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id := newMessageID(s.host)
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{m.To}, s.compose(m, id, time.Now())); err != nil {
		return Receipt{}, fmt.Errorf("smtp send: %w", err)
	}
	return Receipt{MessageID: id}, nil
}

func (s *SMTP) compose(m Message, id string, now time.Time) []byte {
	from := s.from
	if s.name != "" {
		from = mime.QEncoding.Encode("utf-8", s.name) + " <" + s.from + ">"
	}
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: " + id + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if m.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(m.Text)
		return []byte(b.String())
	}

	boundary := "dp-" + randomHex(12)
	b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")
	b.WriteString("--" + boundary + "\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(m.Text + "\r\n")
	b.WriteString("--" + boundary + "\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(m.HTML + "\r\n")
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

func newMessageID(host string) string {
	return "<" + randomHex(16) + "@" + host + ">"
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
