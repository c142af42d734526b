package logx

import (
	"strings"
	"testing"
)

func TestFormatChatLine(t *testing.T) {
	line := `{"level":"warn","time":"2025-01-01T00:00:00Z","message":"send failed","dest":"trading","attempt":2}`
	got := formatChatLine([]byte(line))

	if !strings.HasPrefix(got, "[WARN] send failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "dest=trading") {
		t.Fatalf("missing field in %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be stripped: %q", got)
	}
}

func TestFormatChatLineNonJSON(t *testing.T) {
	got := formatChatLine([]byte("  plain text line\n"))
	if got != "plain text line" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is far too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"anything", 0, "anything"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("debug", LevelInfo); got != LevelDebug {
		t.Fatalf("got %v", got)
	}
	if got := parseLevel(" WARNING ", LevelInfo); got != LevelWarn {
		t.Fatalf("got %v", got)
	}
	if got := parseLevel("bogus", LevelError); got != LevelError {
		t.Fatalf("default not applied: %v", got)
	}
}
