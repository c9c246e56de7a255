package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrNotFound  = errors.New("subscriber not found")
	ErrDuplicate = errors.New("email already subscribed")
	ErrLocked    = errors.New("storage locked")
)

// DefaultTimezone is assigned to subscribers created without a timezone label.
const DefaultTimezone = "UTC"

// Config configures storage.
//
// Driver values:
//   - "file": Path is the snapshot prefix (e.g. "./data/subscribers"). Single
//     process only: a second Open on the same prefix fails with ErrLocked, so
//     CLI commands cannot run next to a daemon using this driver.
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a lib/pq connection string or URL
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means 25
}

// Item is one generated prompt. Immutable once produced.
type Item struct {
	Prompt string `json:"prompt"`
}

type Subscriber struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	Topics    []string  `json:"topics"`
	Goal      string    `json:"goal"`
	Timezone  string    `json:"timezone"`
	Items     []Item    `json:"items"`
	Cursor    int       `json:"cursor"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patch lists the fields to change in Update. Nil fields are left untouched.
// Items replaces the whole collection; there is no partial merge.
// AdvanceCursor increments the stored cursor by one in the same write,
// after Cursor (if set) is applied.
type Patch struct {
	Items         *[]Item
	Cursor        *int
	AdvanceCursor bool
	Topics        *[]string
	Goal          *string
}

func (p Patch) empty() bool {
	return p.Items == nil && p.Cursor == nil && !p.AdvanceCursor && p.Topics == nil && p.Goal == nil
}

// Store is the subscriber persistence API used by generation and delivery.
type Store interface {
	// Create inserts a new subscriber. An empty ID is filled with a UUID.
	Create(ctx context.Context, s *Subscriber) error
	Get(ctx context.Context, id string) (Subscriber, error)
	Update(ctx context.Context, id string, p Patch) error
	ListAll(ctx context.Context) ([]Subscriber, error)
	// ListByTimezones returns subscribers whose timezone label is in labels.
	ListByTimezones(ctx context.Context, labels []string) ([]Subscriber, error)
	// Timezones returns the distinct timezone labels currently in use.
	Timezones(ctx context.Context) ([]string, error)
	Close() error
}

func applyPatch(s *Subscriber, p Patch, now time.Time) {
	if p.Items != nil {
		s.Items = append([]Item(nil), (*p.Items)...)
	}
	if p.Cursor != nil {
		s.Cursor = *p.Cursor
	}
	if p.AdvanceCursor {
		s.Cursor++
	}
	if p.Topics != nil {
		s.Topics = append([]string(nil), (*p.Topics)...)
	}
	if p.Goal != nil {
		s.Goal = *p.Goal
	}
	s.UpdatedAt = now
}
