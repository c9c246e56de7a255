package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc"}); err != nil {
		t.Fatalf("offline bot should not need the network: %v", err)
	}
}

func TestClipRunes(t *testing.T) {
	t.Parallel()
	if got := clipRunes("short", 10); got != "short" {
		t.Fatalf("clipRunes = %q", got)
	}
	long := strings.Repeat("é", maxMessageRunes+5)
	got := clipRunes(long, maxMessageRunes)
	if n := utf8.RuneCountInString(got); n != maxMessageRunes || !strings.HasSuffix(got, "…") {
		t.Fatalf("clipped to %d runes", n)
	}
}
