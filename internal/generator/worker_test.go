package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"dailyprompt/internal/eventbus"
	"dailyprompt/internal/storage"
	logx "dailyprompt/pkg/logx"
)

var requestedCount = regexp.MustCompile(`exactly (\d+)`)

// scriptedClient answers each call with respond(call, requested).
type scriptedClient struct {
	mu      sync.Mutex
	calls   int
	asked   []int
	respond func(call, requested int) (string, error)
}

func (c *scriptedClient) Complete(_ context.Context, instruction string) (string, error) {
	m := requestedCount.FindStringSubmatch(instruction)
	n, _ := strconv.Atoi(m[1])
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.asked = append(c.asked, n)
	c.mu.Unlock()
	return c.respond(call, n)
}

// batch renders n items numbered from start.
func batch(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"prompt":"item %d"}`, start+i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestGenerateExactCount(t *testing.T) {
	t.Parallel()
	for _, target := range []int{1, 7, 100, 101, 365} {
		target := target
		t.Run(strconv.Itoa(target), func(t *testing.T) {
			t.Parallel()
			next := 1
			client := &scriptedClient{respond: func(_, n int) (string, error) {
				out := batch(next, n)
				next += n
				return out, nil
			}}
			w := NewWorker(client, nil, Config{BatchSize: 100}, logx.Nop(), nil)
			items, err := w.Generate(context.Background(), []string{"focus"}, "calm", target)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if len(items) != target {
				t.Fatalf("got %d items, want %d", len(items), target)
			}
			for i, it := range items {
				if want := fmt.Sprintf("item %d", i+1); it.Prompt != want {
					t.Fatalf("item %d = %q, want %q", i, it.Prompt, want)
				}
			}
			for _, n := range client.asked {
				if n > 100 {
					t.Fatalf("batch of %d exceeds batch size", n)
				}
			}
		})
	}
}

func TestGenerateRecoversShortBatch(t *testing.T) {
	t.Parallel()
	next := 1
	client := &scriptedClient{respond: func(call, n int) (string, error) {
		if call == 1 {
			n--
		}
		out := batch(next, n)
		next += n
		return out, nil
	}}
	w := NewWorker(client, nil, Config{BatchSize: 10}, logx.Nop(), nil)
	items, err := w.Generate(context.Background(), nil, "", 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("got %d items, want 10", len(items))
	}
	if client.calls != 2 || client.asked[1] != 1 {
		t.Fatalf("expected a second call for the remainder, asked=%v", client.asked)
	}
}

func TestGenerateTrimsOvershoot(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{respond: func(_, n int) (string, error) {
		return batch(1, n+5), nil
	}}
	w := NewWorker(client, nil, Config{}, logx.Nop(), nil)
	items, err := w.Generate(context.Background(), nil, "", 4)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 4 || items[3].Prompt != "item 4" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if cap(items) != 4 {
		t.Fatalf("cap = %d, want 4", cap(items))
	}
}

func TestGenerateFailsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		respond func(call, n int) (string, error)
		wantErr error
	}{
		{name: "garbage", respond: func(int, int) (string, error) { return "I cannot do that.", nil }, wantErr: errNoItems},
		{name: "client error", respond: func(int, int) (string, error) { return "", errors.New("quota exceeded") }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := &scriptedClient{respond: tt.respond}
			w := NewWorker(client, nil, Config{MaxAttempts: 3}, logx.Nop(), nil)
			_, err := w.Generate(context.Background(), nil, "", 5)
			var gf *GenerationFailure
			if !errors.As(err, &gf) {
				t.Fatalf("expected GenerationFailure, got %v", err)
			}
			if gf.Attempts != 3 || client.calls != 3 {
				t.Fatalf("attempts=%d calls=%d, want 3", gf.Attempts, client.calls)
			}
			if gf.Reason != "insufficient items after 3 attempts" {
				t.Fatalf("reason = %q", gf.Reason)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v in chain, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGenerateKeepsProgressAcrossFailures(t *testing.T) {
	t.Parallel()
	next := 1
	client := &scriptedClient{respond: func(call, n int) (string, error) {
		if call%2 == 0 {
			return "", errors.New("transient")
		}
		out := batch(next, 2)
		next += 2
		return out, nil
	}}
	w := NewWorker(client, nil, Config{BatchSize: 2, MaxAttempts: 3}, logx.Nop(), nil)
	items, err := w.Generate(context.Background(), nil, "", 6)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 6 || items[5].Prompt != "item 6" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestGenerateDropsOverlongItems(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 151)
	client := &scriptedClient{respond: func(call, n int) (string, error) {
		if call == 1 {
			return `[{"prompt":"ok"},{"prompt":"` + long + `"}]`, nil
		}
		return batch(2, n), nil
	}}
	w := NewWorker(client, nil, Config{}, logx.Nop(), nil)
	items, err := w.Generate(context.Background(), nil, "", 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, it := range items {
		if len(it.Prompt) > 150 {
			t.Fatalf("overlong item kept: %d chars", len(it.Prompt))
		}
	}
	if client.calls != 2 {
		t.Fatalf("calls = %d, want 2", client.calls)
	}
}

func TestGenerateRejectsBadTarget(t *testing.T) {
	t.Parallel()
	w := NewWorker(&scriptedClient{}, nil, Config{}, logx.Nop(), nil)
	if _, err := w.Generate(context.Background(), nil, "", 0); err == nil {
		t.Fatal("expected error for zero target")
	}
}

func TestGenerateHugeTargetDoesNotPreallocate(t *testing.T) {
	t.Parallel()
	client := &scriptedClient{respond: func(int, int) (string, error) { return "", errors.New("down") }}
	w := NewWorker(client, nil, Config{MaxAttempts: 2}, logx.Nop(), nil)
	_, err := w.Generate(context.Background(), nil, "", math.MaxInt)
	var gf *GenerationFailure
	if !errors.As(err, &gf) || client.calls != 2 {
		t.Fatalf("expected GenerationFailure after 2 calls, got %v (calls %d)", err, client.calls)
	}
}

func TestRunReplacesItemsKeepsCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/subs"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	sub := &storage.Subscriber{Email: "gen@example.com", Items: []storage.Item{{Prompt: "old"}}, Cursor: 9}
	if err := st.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	w := NewWorker(Mock{}, st, Config{TargetCount: 12, BatchSize: 5}, logx.Nop(), bus)
	if err := w.Run(ctx, Request{SubscriberID: sub.ID, Topics: []string{"gratitude"}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := st.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Items) != 12 || got.Cursor != 9 {
		t.Fatalf("items=%d cursor=%d, want 12 and 9", len(got.Items), got.Cursor)
	}
	if e := <-events; e.Type != eventbus.TypeGenerationCompleted {
		t.Fatalf("event = %s, want %s", e.Type, eventbus.TypeGenerationCompleted)
	}
}

func TestRunFailureLeavesItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/subs"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	sub := &storage.Subscriber{Email: "fail@example.com", Items: []storage.Item{{Prompt: "keep"}}}
	if err := st.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	client := &scriptedClient{respond: func(int, int) (string, error) { return "nope", nil }}
	w := NewWorker(client, st, Config{TargetCount: 3}, logx.Nop(), nil)

	var gf *GenerationFailure
	if err := w.Run(ctx, Request{SubscriberID: sub.ID}); !errors.As(err, &gf) {
		t.Fatalf("expected GenerationFailure, got %v", err)
	}
	got, _ := st.Get(ctx, sub.ID)
	if len(got.Items) != 1 || got.Items[0].Prompt != "keep" {
		t.Fatalf("items changed on failure: %+v", got.Items)
	}

	if err := w.Run(ctx, Request{SubscriberID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildInstruction(t *testing.T) {
	t.Parallel()
	got := BuildInstruction(42, []string{"health", " ", "work"}, "focus", 150)
	for _, want := range []string{"exactly 42", "health, work", "goal of focus", "150 characters", `"prompt"`, "markdown"} {
		if !strings.Contains(got, want) {
			t.Fatalf("instruction missing %q:\n%s", want, got)
		}
	}
}

func TestMockHonorsCount(t *testing.T) {
	t.Parallel()
	raw, err := Mock{}.Complete(context.Background(), BuildInstruction(7, nil, "", 150))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := Repair(raw); len(got) != 7 {
		t.Fatalf("mock produced %d items, want 7", len(got))
	}
}

func TestNewClientProviders(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(ClientConfig{Provider: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	for _, p := range []string{"openai", "deepseek", "anthropic"} {
		if _, err := NewClient(ClientConfig{Provider: p}); err == nil {
			t.Fatalf("%s without api key should fail", p)
		}
		if _, err := NewClient(ClientConfig{Provider: p, APIKey: "k"}); err != nil {
			t.Fatalf("%s: %v", p, err)
		}
	}
	if _, err := NewClient(ClientConfig{Provider: "bard"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
