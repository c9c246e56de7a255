package mailer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	logx "dailyprompt/pkg/logx"
)

// LogSender records messages instead of sending them. Every send succeeds.
type LogSender struct {
	log logx.Logger

	mu   sync.Mutex
	sent []Message
}

func NewLogSender(log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, m Message) (Receipt, error) {
	if err := m.validate(); err != nil {
		return Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()
	s.log.Info("mail (dry run)", logx.String("to", m.To), logx.String("subject", m.Subject), logx.String("text", m.Text), logx.String("message_id", id))
	return Receipt{MessageID: id}, nil
}

// Sent returns a copy of the recorded messages.
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
