package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	logx "dailyprompt/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// dialect captures the small differences between the SQL drivers.
type dialect struct {
	name        string
	numbered    bool // $1, $2 placeholders instead of ?
	isDuplicate func(err error) bool
}

// sqlStore implements Store on database/sql. Topics and items are stored as
// JSON text so the same schema works on SQLite and PostgreSQL.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	d   dialect
}

const subscriberColumns = `id, email, first_name, topics, goal, timezone, items, send_cursor, created_at, updated_at`

func (s *sqlStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// rebind rewrites ? placeholders for drivers that use numbered parameters.
func (s *sqlStore) rebind(q string) string {
	if !s.d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Create(ctx context.Context, sub *Subscriber) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if sub == nil {
		return errors.New("subscriber is nil")
	}
	if err := prepareNew(sub, time.Now().UTC()); err != nil {
		return err
	}
	topics, err := json.Marshal(sub.Topics)
	if err != nil {
		return err
	}
	items, err := json.Marshal(sub.Items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO subscribers(`+subscriberColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`),
		sub.ID, sub.Email, nullStr(sub.FirstName), string(topics), sub.Goal, sub.Timezone,
		string(items), sub.Cursor, formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt),
	)
	if err != nil && s.d.isDuplicate != nil && s.d.isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (Subscriber, error) {
	if s == nil || s.db == nil {
		return Subscriber{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`), strings.TrimSpace(id))
	sub, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	return sub, err
}

func (s *sqlStore) Update(ctx context.Context, id string, p Patch) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if p.empty() {
		return nil
	}
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if p.Items != nil {
		b, err := json.Marshal(*p.Items)
		if err != nil {
			return err
		}
		sets = append(sets, "items = ?")
		args = append(args, string(b))
	}
	if p.Cursor != nil {
		sets = append(sets, "send_cursor = ?")
		args = append(args, *p.Cursor)
	}
	if p.AdvanceCursor {
		if p.Cursor != nil {
			args[len(args)-1] = *p.Cursor + 1
		} else {
			sets = append(sets, "send_cursor = send_cursor + 1")
		}
	}
	if p.Topics != nil {
		b, err := json.Marshal(*p.Topics)
		if err != nil {
			return err
		}
		sets = append(sets, "topics = ?")
		args = append(args, string(b))
	}
	if p.Goal != nil {
		sets = append(sets, "goal = ?")
		args = append(args, *p.Goal)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now().UTC()), strings.TrimSpace(id))

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE subscribers SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) ListAll(ctx context.Context) ([]Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.query(ctx, `SELECT `+subscriberColumns+` FROM subscribers ORDER BY created_at, id`)
}

func (s *sqlStore) ListByTimezones(ctx context.Context, labels []string) ([]Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if len(labels) == 0 {
		return nil, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",")
	args := make([]any, len(labels))
	for i, l := range labels {
		args[i] = l
	}
	return s.query(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE timezone IN (`+ph+`) ORDER BY created_at, id`, args...)
}

func (s *sqlStore) Timezones(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT timezone FROM subscribers ORDER BY timezone`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tz string
		if err := rows.Scan(&tz); err != nil {
			return nil, err
		}
		out = append(out, tz)
	}
	return out, rows.Err()
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscriber
	for rows.Next() {
		sub, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) scan(r rowScanner) (Subscriber, error) {
	var (
		sub              Subscriber
		firstName        sql.NullString
		topics, items    string
		created, updated string
	)
	if err := r.Scan(&sub.ID, &sub.Email, &firstName, &topics, &sub.Goal, &sub.Timezone,
		&items, &sub.Cursor, &created, &updated); err != nil {
		return Subscriber{}, err
	}
	sub.FirstName = firstName.String
	if err := json.Unmarshal([]byte(topics), &sub.Topics); err != nil {
		s.log.Warn("stored topics unreadable", logx.String("subscriber", sub.ID), logx.Err(err))
	}
	// Unreadable items leave the collection empty; delivery skips such subscribers.
	if err := json.Unmarshal([]byte(items), &sub.Items); err != nil {
		s.log.Warn("stored items unreadable", logx.String("subscriber", sub.ID), logx.Err(err))
		sub.Items = nil
	}
	sub.CreatedAt = parseTime(created)
	sub.UpdatedAt = parseTime(updated)
	return sub, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
