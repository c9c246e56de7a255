package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "dailyprompt/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "file", "subscribers")},
		{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "subscribers.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if !errors.Is(err, ErrDisabled) || st != nil {
		t.Fatalf("expected ErrDisabled, got %v %v", st, err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestStoreCreateGetUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			sub := &Subscriber{Email: " ada@example.com ", Topics: []string{"focus"}, Goal: "write daily"}
			if err := st.Create(ctx, sub); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if sub.ID == "" || sub.Timezone != DefaultTimezone {
				t.Fatalf("defaults not applied: %+v", sub)
			}
			if err := st.Create(ctx, &Subscriber{Email: "ADA@example.com"}); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}

			items := []Item{{Prompt: "A"}, {Prompt: "B"}}
			cursor := 4
			if err := st.Update(ctx, sub.ID, Patch{Items: &items}); err != nil {
				t.Fatalf("Update items: %v", err)
			}
			if err := st.Update(ctx, sub.ID, Patch{Cursor: &cursor}); err != nil {
				t.Fatalf("Update cursor: %v", err)
			}

			got, err := st.Get(ctx, sub.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Email != "ada@example.com" || got.Cursor != 4 || len(got.Items) != 2 || got.Items[1].Prompt != "B" {
				t.Fatalf("unexpected subscriber: %+v", got)
			}
			if len(got.Topics) != 1 || got.Goal != "write daily" {
				t.Fatalf("unexpected profile fields: %+v", got)
			}

			if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := st.Update(ctx, "missing", Patch{Cursor: &cursor}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on update, got %v", err)
			}
		})
	}
}

func TestStoreListByTimezones(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			for _, s := range []Subscriber{
				{Email: "a@example.com", Timezone: "Asia/Jakarta"},
				{Email: "b@example.com", Timezone: "Europe/Berlin"},
				{Email: "c@example.com", Timezone: "Asia/Jakarta"},
				{Email: "d@example.com"},
			} {
				s := s
				if err := st.Create(ctx, &s); err != nil {
					t.Fatalf("Create %s: %v", s.Email, err)
				}
			}

			tzs, err := st.Timezones(ctx)
			if err != nil {
				t.Fatalf("Timezones: %v", err)
			}
			if len(tzs) != 3 {
				t.Fatalf("expected 3 distinct timezones, got %v", tzs)
			}

			got, err := st.ListByTimezones(ctx, []string{"Asia/Jakarta", "UTC"})
			if err != nil {
				t.Fatalf("ListByTimezones: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 subscribers, got %d", len(got))
			}
			for _, s := range got {
				if s.Timezone == "Europe/Berlin" {
					t.Fatalf("unexpected subscriber in result: %+v", s)
				}
			}

			none, err := st.ListByTimezones(ctx, nil)
			if err != nil || len(none) != 0 {
				t.Fatalf("expected empty result, got %v %v", none, err)
			}

			all, err := st.ListAll(ctx)
			if err != nil || len(all) != 4 {
				t.Fatalf("ListAll = %d %v, want 4", len(all), err)
			}
		})
	}
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subscribers")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sub := &Subscriber{Email: "replay@example.com", Items: []Item{{Prompt: "one"}}}
	if err := st.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cursor := 7
	if err := st.Update(ctx, sub.ID, Patch{Cursor: &cursor}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// Simulate a crash: drop the handle without compaction.
	fs := st.(*fileStore)
	_ = fs.journal.Close()
	_ = fs.lock.Unlock()

	again, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	got, err := again.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get after replay: %v", err)
	}
	if got.Cursor != 7 || len(got.Items) != 1 {
		t.Fatalf("unexpected replayed subscriber: %+v", got)
	}
}

func TestFileStoreRejectsSecondOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subscribers")
	daemon, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Open(Config{Driver: "file", Path: path}, logx.Nop()); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open = %v, want ErrLocked", err)
	}
	if err := daemon.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	_ = again.Close()
}

func TestStoreAdvanceCursorIsRelative(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			sub := &Subscriber{Email: "adv@example.com", Items: []Item{{Prompt: "A"}, {Prompt: "B"}}}
			if err := st.Create(ctx, sub); err != nil {
				t.Fatalf("Create: %v", err)
			}
			// Two writers holding the same cursor=0 snapshot each advance once.
			for i := 0; i < 2; i++ {
				if err := st.Update(ctx, sub.ID, Patch{AdvanceCursor: true}); err != nil {
					t.Fatalf("Update: %v", err)
				}
			}
			got, err := st.Get(ctx, sub.ID)
			if err != nil || got.Cursor != 2 {
				t.Fatalf("cursor = %d (%v), want 2", got.Cursor, err)
			}
			five := 5
			if err := st.Update(ctx, sub.ID, Patch{Cursor: &five, AdvanceCursor: true}); err != nil {
				t.Fatalf("Update: %v", err)
			}
			if got, _ := st.Get(ctx, sub.ID); got.Cursor != 6 {
				t.Fatalf("cursor = %d, want 6", got.Cursor)
			}
			if err := st.Update(ctx, "missing", Patch{AdvanceCursor: true}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRebindNumbered(t *testing.T) {
	t.Parallel()
	s := &sqlStore{d: dialect{numbered: true}}
	got := s.rebind("UPDATE t SET a = ?, b = ? WHERE id = ?")
	if got != "UPDATE t SET a = $1, b = $2 WHERE id = $3" {
		t.Fatalf("rebind = %q", got)
	}
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	t.Parallel()
	dsn := sqliteDSN(Config{Path: "data/subs.db", BusyTimeout: 1500 * time.Millisecond})
	for _, want := range []string{"file:data/subs.db?", "busy_timeout%281500%29", "journal_mode%28WAL%29"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
	if strings.Contains(sqliteDSN(Config{Path: "x.db"}), "busy_timeout") {
		t.Fatal("busy_timeout must be omitted when zero")
	}
}
