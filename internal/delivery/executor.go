package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/mailer"
	"dailyprompt/internal/storage"
	logx "dailyprompt/pkg/logx"
)

type Status string

const (
	StatusDelivered Status = "delivered"
	StatusSkipped   Status = "skipped"
)

// Result describes one delivery attempt that did not fail.
type Result struct {
	SubscriberID string `json:"subscriber_id"`
	Status       Status `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Index        int    `json:"index"`
	Prompt       string `json:"prompt,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	// CursorAdvanced is false when the send was confirmed but the cursor
	// write failed; the same item will be sent again next time.
	CursorAdvanced bool `json:"cursor_advanced"`
}

// DeliveryFailure is returned when the send itself failed. The cursor is unchanged.
type DeliveryFailure struct {
	SubscriberID string
	Index        int
	Err          error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver item %d to %s: %v", e.Index, e.SubscriberID, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }

type Executor struct {
	store    storage.Store
	sender   mailer.Sender
	composer *mailer.Composer
	log      logx.Logger
	bus      eventbus.Bus
}

func NewExecutor(store storage.Store, sender mailer.Sender, composer *mailer.Composer, log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if composer == nil {
		composer = mailer.NewComposer("")
	}
	return &Executor{store: store, sender: sender, composer: composer, log: log, bus: bus}
}

// rotationIndex maps a cursor onto [0, n).
func rotationIndex(cursor, n int) int {
	return ((cursor % n) + n) % n
}

// DeliverByID loads the subscriber and delivers their next item.
func (e *Executor) DeliverByID(ctx context.Context, id string) (Result, error) {
	if e.store == nil {
		return Result{}, storage.ErrDisabled
	}
	sub, err := e.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Result{}, fmt.Errorf("load subscriber %s: %w", id, err)
	}
	return e.Deliver(ctx, sub)
}

// Deliver sends items[cursor mod len(items)] to sub and advances the cursor by
// one after a confirmed send.
func (e *Executor) Deliver(ctx context.Context, sub storage.Subscriber) (Result, error) {
	log := e.log.With(logx.String("subscriber", sub.ID))
	if len(sub.Items) == 0 {
		res := Result{SubscriberID: sub.ID, Status: StatusSkipped, Reason: "no items"}
		log.Info("delivery skipped", logx.String("reason", res.Reason))
		e.publish(eventbus.TypeDeliverySkipped, res)
		return res, nil
	}
	if e.sender == nil {
		return Result{}, errors.New("mail sender is not configured")
	}

	idx := rotationIndex(sub.Cursor, len(sub.Items))
	prompt := sub.Items[idx].Prompt

	msg, err := e.composer.Compose(sub.Email, sub.FirstName, prompt)
	if err != nil {
		return Result{}, e.fail(sub, idx, fmt.Errorf("compose: %w", err))
	}
	receipt, err := e.sender.Send(ctx, msg)
	if err != nil {
		return Result{}, e.fail(sub, idx, err)
	}

	res := Result{
		SubscriberID: sub.ID,
		Status:       StatusDelivered,
		Index:        idx,
		Prompt:       prompt,
		MessageID:    receipt.MessageID,
	}
	// sub may be a stale snapshot; the store increments its own value.
	if err := e.store.Update(ctx, sub.ID, storage.Patch{AdvanceCursor: true}); err != nil {
		// The mail is out; resending the same item next time is acceptable.
		log.Error("cursor update failed after send", logx.Int("index", idx), logx.Int("cursor", sub.Cursor), logx.Err(err))
	} else {
		res.CursorAdvanced = true
	}
	log.Info("prompt delivered", logx.Int("index", idx), logx.Bool("cursor_advanced", res.CursorAdvanced), logx.String("message_id", receipt.MessageID))
	e.publish(eventbus.TypeDeliverySent, res)
	return res, nil
}

func (e *Executor) fail(sub storage.Subscriber, idx int, err error) error {
	f := &DeliveryFailure{SubscriberID: sub.ID, Index: idx, Err: err}
	e.log.Warn("delivery failed", logx.String("subscriber", sub.ID), logx.Int("index", idx), logx.Err(err))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Time: time.Now(), Data: Result{SubscriberID: sub.ID, Index: idx, Reason: err.Error()}})
	}
	return f
}

func (e *Executor) publish(typ string, res Result) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: res})
}
