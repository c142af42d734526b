// Package chatui builds interactive Telegram messages: a line-oriented
// message builder, inline keyboards, callback-data helpers, and a TTL token
// store for confirm flows whose payloads exceed the callback_data limit.
package chatui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "gexbot/internal/transport"
	"gexbot/pkg/chatfmt"
)

// Message is a rendered payload: text plus send options. Long texts are
// split by the adapter at the platform limit, so a Message is always one
// logical unit here.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Builder assembles an HTML message line by line. Plain-text inputs are
// escaped; Raw lines pass through.
type Builder struct {
	disablePreview bool
	rm             *tele.ReplyMarkup
	lines          []string
}

func New() *Builder {
	return &Builder{disablePreview: true}
}

func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

// Inline attaches an inline keyboard.
func (b *Builder) Inline(kb *Inline) *Builder {
	if kb == nil {
		b.rm = nil
		return b
	}
	b.rm = kb.Markup()
	return b
}

// Title adds a bold first line with an optional emoji prefix.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := chatfmt.B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = chatfmt.Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Section adds a bold header line.
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	b.lines = append(b.lines, chatfmt.B(t).String())
	return b
}

// Line adds one escaped line. An empty string yields a blank line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, chatfmt.Esc(s).String())
	return b
}

// RawLine appends pre-built safe HTML.
func (b *Builder) RawLine(h chatfmt.H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds a "• key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+chatfmt.B(key).String()+": "+chatfmt.Esc(strings.TrimSpace(value)).String())
	return b
}

// Pre adds a preformatted block.
func (b *Builder) Pre(code string) *Builder {
	code = strings.TrimRight(code, "\n")
	if code == "" {
		return b
	}
	b.lines = append(b.lines, chatfmt.Pre(code).String())
	return b
}

func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: b.disablePreview}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: text, Opt: opt}
}
