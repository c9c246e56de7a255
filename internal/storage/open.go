package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "dailyprompt/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if no driver is configured.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// prepareNew fills defaults on a subscriber that is about to be inserted.
func prepareNew(s *Subscriber, now time.Time) error {
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	if s.Email == "" {
		return errors.New("email required")
	}
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.NewString()
	}
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = DefaultTimezone
	}
	if s.Cursor < 0 {
		s.Cursor = 0
	}
	if s.Topics == nil {
		s.Topics = []string{}
	}
	if s.Items == nil {
		s.Items = []Item{}
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}
