package mailer

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
)

// DefaultSubject is used when the configured subject is empty.
const DefaultSubject = "Your Daily Journal Prompt"

// Composer turns a prompt into an email.
type Composer struct {
	Subject string
	md      goldmark.Markdown
}

func NewComposer(subject string) *Composer {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	return &Composer{Subject: subject, md: goldmark.New()}
}

// Compose builds the message for one prompt. The prompt is treated as
// Markdown for the HTML part; the text part carries it verbatim.
func (c *Composer) Compose(to, firstName, prompt string) (Message, error) {
	greeting := "Good morning!"
	if n := strings.TrimSpace(firstName); n != "" {
		greeting = fmt.Sprintf("Good morning, %s!", n)
	}
	text := greeting + "\n\nToday's prompt:\n\n" + prompt + "\n"

	var body bytes.Buffer
	if err := c.md.Convert([]byte("> "+prompt), &body); err != nil {
		return Message{}, fmt.Errorf("render prompt: %w", err)
	}
	var h strings.Builder
	h.WriteString("<!doctype html><html><body>")
	h.WriteString("<p>" + html.EscapeString(greeting) + "</p>")
	h.WriteString("<p>Today's prompt:</p>")
	h.Write(body.Bytes())
	h.WriteString("</body></html>")

	return Message{To: to, Subject: c.Subject, Text: text, HTML: h.String()}, nil
}
