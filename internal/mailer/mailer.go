// Package mailer sends the daily prompt email.
//
// Drivers:
//   - "brevo": Brevo transactional email HTTP API
//   - "smtp":  plain SMTP with optional STARTTLS/PLAIN auth
//   - "log":   writes the message to the log instead of sending (dry run)
package mailer

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "dailyprompt/pkg/logx"
)

// Message is one outbound email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Receipt confirms the provider accepted a message.
type Receipt struct {
	MessageID string
}

// Sender delivers messages. A nil error means the send is confirmed.
type Sender interface {
	Send(ctx context.Context, m Message) (Receipt, error)
}

type Config struct {
	Driver      string
	APIKey      string
	Endpoint    string // brevo API endpoint override
	SenderEmail string
	SenderName  string
	Timeout     time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// New builds the Sender for cfg.Driver.
func New(cfg Config, log logx.Logger) (Sender, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "brevo":
		return newBrevo(cfg)
	case "smtp":
		return newSMTP(cfg)
	case "", "log":
		return &LogSender{log: log}, nil
	default:
		return nil, errors.New("unknown mail driver: " + cfg.Driver)
	}
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("mail: recipient is required")
	}
	if strings.TrimSpace(m.Text) == "" && strings.TrimSpace(m.HTML) == "" {
		return errors.New("mail: empty body")
	}
	return nil
}
