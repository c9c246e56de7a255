package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "dailyprompt/pkg/logx"
)

func TestBrevoSend(t *testing.T) {
	t.Parallel()
	var got brevoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("api-key") != "secret" {
			t.Errorf("unexpected request: %s api-key=%q", r.Method, r.Header.Get("api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<abc@brevo>"}`))
	}))
	defer srv.Close()

	s, err := New(Config{Driver: "brevo", APIKey: "secret", Endpoint: srv.URL, SenderEmail: "hi@example.com", SenderName: "Daily"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rc, err := s.Send(context.Background(), Message{To: "u@example.com", Subject: "S", Text: "T", HTML: "<p>T</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rc.MessageID != "<abc@brevo>" {
		t.Fatalf("MessageID = %q", rc.MessageID)
	}
	if got.Sender.Email != "hi@example.com" || len(got.To) != 1 || got.To[0].Email != "u@example.com" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.TextContent != "T" || got.HTMLContent != "<p>T</p>" {
		t.Fatalf("unexpected content: %+v", got)
	}
}

func TestBrevoStatusError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		code      int
		temporary bool
		calls     int32
	}{
		{name: "bad request", code: http.StatusBadRequest, temporary: false, calls: 1},
		{name: "rate limited", code: http.StatusTooManyRequests, temporary: true, calls: 2},
		{name: "server error", code: http.StatusBadGateway, temporary: true, calls: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"code":"x","message":"nope"}`))
			}))
			defer srv.Close()

			b, err := newBrevo(Config{APIKey: "k", Endpoint: srv.URL, SenderEmail: "a@b.c"})
			if err != nil {
				t.Fatalf("newBrevo: %v", err)
			}
			b.retryDelay = time.Millisecond
			_, err = b.Send(context.Background(), Message{To: "u@example.com", Text: "x"})
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if se.Code != tt.code || se.Message != "nope" || se.Temporary() != tt.temporary {
				t.Fatalf("unexpected error: %+v", se)
			}
			if n := calls.Load(); n != tt.calls {
				t.Fatalf("calls = %d, want %d", n, tt.calls)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "brevo no key", cfg: Config{Driver: "brevo", SenderEmail: "a@b.c"}},
		{name: "brevo no sender", cfg: Config{Driver: "brevo", APIKey: "k"}},
		{name: "smtp no host", cfg: Config{Driver: "smtp", SenderEmail: "a@b.c"}},
		{name: "unknown", cfg: Config{Driver: "pigeon"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg, logx.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLogSenderRecords(t *testing.T) {
	t.Parallel()
	s := NewLogSender(logx.Nop())
	if _, err := s.Send(context.Background(), Message{To: "", Text: "x"}); err == nil {
		t.Fatal("expected error for empty recipient")
	}
	rc, err := s.Send(context.Background(), Message{To: "a@example.com", Text: "hello"})
	if err != nil || rc.MessageID == "" {
		t.Fatalf("Send = %+v, %v", rc, err)
	}
	if sent := s.Sent(); len(sent) != 1 || sent[0].Text != "hello" {
		t.Fatalf("unexpected recorded messages: %+v", sent)
	}
}

func TestSMTPCompose(t *testing.T) {
	t.Parallel()
	s, err := newSMTP(Config{SMTPHost: "mail.example.com", SenderEmail: "hi@example.com", SenderName: "Daily"})
	if err != nil {
		t.Fatalf("newSMTP: %v", err)
	}
	if s.addr != "mail.example.com:587" {
		t.Fatalf("addr = %q", s.addr)
	}
	raw := string(s.compose(Message{To: "u@example.com", Subject: "Hi", Text: "plain", HTML: "<p>rich</p>"}, "<id@x>", time.Unix(0, 0)))
	for _, want := range []string{"To: u@example.com\r\n", "Message-ID: <id@x>\r\n", "multipart/alternative", "plain", "<p>rich</p>"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
	plain := string(s.compose(Message{To: "u@example.com", Text: "only"}, "<id@x>", time.Unix(0, 0)))
	if strings.Contains(plain, "multipart") || !strings.HasSuffix(plain, "only") {
		t.Fatalf("unexpected plain message:\n%s", plain)
	}
}

func TestComposer(t *testing.T) {
	t.Parallel()
	c := NewComposer("")
	m, err := c.Compose("u@example.com", "Ada", "What made you *smile* yesterday? <script>")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if m.Subject != DefaultSubject || m.To != "u@example.com" {
		t.Fatalf("unexpected headers: %+v", m)
	}
	if !strings.Contains(m.Text, "Good morning, Ada!") || !strings.Contains(m.Text, "What made you *smile* yesterday?") {
		t.Fatalf("unexpected text body: %q", m.Text)
	}
	if !strings.Contains(m.HTML, "<em>smile</em>") || !strings.Contains(m.HTML, "<blockquote>") {
		t.Fatalf("markdown not rendered: %q", m.HTML)
	}
	if strings.Contains(m.HTML, "<script>") {
		t.Fatalf("raw html leaked into body: %q", m.HTML)
	}
}
