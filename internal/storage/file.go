package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	logx "dailyprompt/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of all subscribers)
//   - <prefix>.journal.jsonl (append-only journal of full records)
//   - <prefix>.lock (held exclusively while open)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
// State lives in this process's memory, so only one process may open a prefix.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	lock *flock.Flock

	snapshotPath string
	journal      *os.File
	subs         map[string]Subscriber

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op         string      `json:"op"`
	Subscriber *Subscriber `json:"subscriber,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	lk := flock.New(prefix + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lk.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is held by another process", ErrLocked, lk.Path())
	}

	subs := map[string]Subscriber{}
	if err := loadSnapshot(snapPath, subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = lk.Unlock()
		return nil, err
	}
	if err := replayJournal(journalPath, subs, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = lk.Unlock()
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = lk.Unlock()
		return nil, err
	}

	return &fileStore{
		log:          log,
		lock:         lk,
		snapshotPath: snapPath,
		journal:      jf,
		subs:         subs,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func (s *fileStore) Create(ctx context.Context, sub *Subscriber) error {
	_ = ctx
	if sub == nil {
		return errors.New("subscriber is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	if err := prepareNew(sub, time.Now().UTC()); err != nil {
		return err
	}
	for _, cur := range s.subs {
		if strings.EqualFold(cur.Email, sub.Email) {
			return ErrDuplicate
		}
	}
	if _, ok := s.subs[sub.ID]; ok {
		return ErrDuplicate
	}
	return s.putLocked(*sub)
}

func (s *fileStore) Get(ctx context.Context, id string) (Subscriber, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[strings.TrimSpace(id)]
	if !ok {
		return Subscriber{}, ErrNotFound
	}
	return cloneSubscriber(sub), nil
}

func (s *fileStore) Update(ctx context.Context, id string, p Patch) error {
	_ = ctx
	if p.empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	sub, ok := s.subs[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	sub = cloneSubscriber(sub)
	applyPatch(&sub, p, time.Now().UTC())
	return s.putLocked(sub)
}

func (s *fileStore) ListAll(ctx context.Context) ([]Subscriber, error) {
	return s.list(ctx, nil)
}

func (s *fileStore) ListByTimezones(ctx context.Context, labels []string) ([]Subscriber, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want[l] = struct{}{}
	}
	return s.list(ctx, func(sub Subscriber) bool {
		_, ok := want[sub.Timezone]
		return ok
	})
}

func (s *fileStore) list(ctx context.Context, keep func(Subscriber) bool) ([]Subscriber, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		if keep == nil || keep(sub) {
			out = append(out, cloneSubscriber(sub))
		}
	}
	s.mu.Unlock()
	sortSubscribers(out)
	return out, nil
}

func (s *fileStore) Timezones(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	seen := map[string]struct{}{}
	for _, sub := range s.subs {
		seen[sub.Timezone] = struct{}{}
	}
	s.mu.Unlock()
	out := make([]string, 0, len(seen))
	for tz := range seen {
		out = append(out, tz)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) putLocked(sub Subscriber) error {
	if err := json.NewEncoder(s.journal).Encode(journalRecord{Op: "put", Subscriber: &sub}); err != nil {
		return err
	}
	s.subs[sub.ID] = sub
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	all := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		all = append(all, sub)
	}
	sortSubscribers(all)
	if err := json.NewEncoder(f).Encode(all); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]Subscriber) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []Subscriber
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, sub := range all {
		out[sub.ID] = sub
	}
	return nil
}

func replayJournal(path string, out map[string]Subscriber, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	// Records carry the whole prompt collection; allow long lines.
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	skipped := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Subscriber == nil || r.Subscriber.ID == "" {
			// A torn final line after a crash is expected.
			skipped++
			continue
		}
		out[r.Subscriber.ID] = *r.Subscriber
	}
	if skipped > 0 {
		log.Warn("journal records skipped", logx.String("path", path), logx.Int("count", skipped))
	}
	return sc.Err()
}

func cloneSubscriber(s Subscriber) Subscriber {
	s.Topics = append([]string(nil), s.Topics...)
	s.Items = append([]Item(nil), s.Items...)
	return s
}

func sortSubscribers(subs []Subscriber) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].ID < subs[j].ID
	})
}
