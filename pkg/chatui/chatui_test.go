package chatui

import (
	"strings"
	"testing"
	"time"

	"gexbot/pkg/chatfmt"
)

func TestBuilderEscapesLines(t *testing.T) {
	msg := New().
		Title("📟", "Status <live>").
		KV("Uptime", "3h 12m").
		Line("plain & simple").
		RawLine(chatfmt.Code("SPY 512.34")).
		Build()

	want := "📟 <b>Status &lt;live&gt;</b>\n" +
		"• <b>Uptime</b>: 3h 12m\n" +
		"plain &amp; simple\n" +
		"<code>SPY 512.34</code>"
	if msg.Text != want {
		t.Fatalf("text =\n%s\nwant\n%s", msg.Text, want)
	}
	if msg.Opt == nil || msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("opt = %+v", msg.Opt)
	}
}

func TestBuilderTrimsOuterBlankLines(t *testing.T) {
	msg := New().Blank().Line("body").Blank().Build()
	if msg.Text != "body" {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestBuilderInlineMarkup(t *testing.T) {
	kb := ConfirmInline(Btn("Confirm", "halt:confirm:~abc"), Btn("Cancel", "halt:cancel"))
	msg := New().Line("sure?").Inline(kb).Build()
	if msg.Opt.ReplyMarkupAdapter == nil {
		t.Fatal("markup not attached")
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	data, err := Data("halt", "confirm", "~tok123")
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	ns, action, payload := ParseData(data)
	if ns != "halt" || action != "confirm" || payload != "~tok123" {
		t.Fatalf("parsed %q %q %q", ns, action, payload)
	}

	ns, action, payload = ParseData("scan:run")
	if ns != "scan" || action != "run" || payload != "" {
		t.Fatalf("parsed %q %q %q", ns, action, payload)
	}
}

func TestCallbackDataLimit(t *testing.T) {
	if _, err := Data("ns", "action", strings.Repeat("p", 80)); err != ErrCallbackDataTooLong {
		t.Fatalf("err = %v", err)
	}
}

func TestTokenStoreTakeConsumes(t *testing.T) {
	s := NewTokenStore(time.Minute)
	tok := s.Put("halt-req-from-42")

	if strings.Contains(tok, ":") {
		t.Fatalf("token %q must not contain ':'", tok)
	}
	if v, ok := s.Get(tok); !ok || v != "halt-req-from-42" {
		t.Fatalf("Get = %q %v", v, ok)
	}
	if v, ok := s.Take(tok); !ok || v != "halt-req-from-42" {
		t.Fatalf("Take = %q %v", v, ok)
	}
	if _, ok := s.Take(tok); ok {
		t.Fatal("second Take must miss")
	}
}

func TestTokenStoreExpiry(t *testing.T) {
	s := NewTokenStore(20 * time.Millisecond)
	tok := s.Put("v")
	time.Sleep(40 * time.Millisecond)
	if _, ok := s.Get(tok); ok {
		t.Fatal("expired token must miss")
	}
}
