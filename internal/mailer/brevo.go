package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// Brevo sends through the Brevo transactional email API.
type Brevo struct {
	hc       *http.Client
	endpoint string
	apiKey   string
	sender   brevoContact

	// retryDelay is the wait before the one retry of a 429 or 5xx reply.
	retryDelay time.Duration
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent,omitempty"`
	HTMLContent string         `json:"htmlContent,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func newBrevo(cfg Config) (*Brevo, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mail.api_key is required for brevo")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, errors.New("mail.sender_email is required for brevo")
	}
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep == "" {
		ep = brevoEndpoint
	}
	return &Brevo{
		hc:       &http.Client{Timeout: cfg.Timeout},
		endpoint: ep,
		apiKey:   cfg.APIKey,
		sender:   brevoContact{Email: cfg.SenderEmail, Name: cfg.SenderName},

		retryDelay: 2 * time.Second,
	}, nil
}

// Send posts m to the API. A rate-limit or server error is retried once.
func (b *Brevo) Send(ctx context.Context, m Message) (Receipt, error) {
	if err := m.validate(); err != nil {
		return Receipt{}, err
	}
	body, err := json.Marshal(brevoRequest{
		Sender:      b.sender,
		To:          []brevoContact{{Email: m.To}},
		Subject:     m.Subject,
		TextContent: m.Text,
		HTMLContent: m.HTML,
	})
	if err != nil {
		return Receipt{}, err
	}

	rc, err := b.post(ctx, body)
	var se *StatusError
	if err == nil || !errors.As(err, &se) || !se.Temporary() {
		return rc, err
	}
	t := time.NewTimer(b.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Receipt{}, err
	case <-t.C:
	}
	return b.post(ctx, body)
}

func (b *Brevo) post(ctx context.Context, body []byte) (Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.hc.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("brevo send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var out brevoResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode/100 != 2 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return Receipt{}, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return Receipt{MessageID: out.MessageID}, nil
}

// StatusError is a non-2xx reply from an HTTP mail API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mail api status %d: %s", e.Code, e.Message)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
