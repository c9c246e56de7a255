package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "dailyprompt/pkg/logx"
)

// sqliteDSN builds a modernc DSN whose pragmas apply to every new connection.
func sqliteDSN(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	if ms := cfg.BusyTimeout.Milliseconds(); ms > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", ms))
	}
	return "file:" + filepath.ToSlash(cfg.Path) + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg))
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; the busy timeout covers other processes.
	db.SetMaxOpenConns(1)

	st := &sqlStore{db: db, log: log, d: dialect{name: "sqlite", isDuplicate: sqliteDuplicate}}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite ready", logx.String("path", cfg.Path))
	return st, nil
}

func sqliteDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
