// Package telegram sends operator alerts through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "dailyprompt/internal/transport"
)

// Telegram rejects messages longer than this many characters.
const maxMessageRunes = 4096

type Config struct {
	Token string
}

// Adapter implements transport.Sender. It never polls for updates.
type Adapter struct {
	bot *tele.Bot
}

func New(cfg Config) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Offline skips the getMe call; sends still reach the API.
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b}, nil
}

// SendText posts text to the target chat. A flood-control reply is retried
// once after the wait Telegram asks for, if ctx allows it.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var so tele.SendOptions
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	so.ThreadID = to.ThreadID
	chat := &tele.Chat{ID: to.ChatID}
	text = clipRunes(text, maxMessageRunes)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return kit.MessageRef{}, err
		}
		msg, err := a.bot.Send(chat, text, &so)
		if err == nil {
			return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
		}
		var flood tele.FloodError
		if attempt > 0 || !errors.As(err, &flood) {
			return kit.MessageRef{}, err
		}
		select {
		case <-ctx.Done():
			return kit.MessageRef{}, err
		case <-time.After(time.Duration(flood.RetryAfter) * time.Second):
		}
	}
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
