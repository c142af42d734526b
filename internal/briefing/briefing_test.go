package briefing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gexbot/internal/ai"
	"gexbot/internal/market"
	"gexbot/internal/storage"
	"gexbot/pkg/logx"
)

type fakeFetcher struct {
	contexts map[string]market.Context
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol string) market.Context {
	if c, ok := f.contexts[symbol]; ok {
		return c
	}
	return market.Context{
		Symbol:  symbol,
		Missing: []string{"quote", "history"},
		Message: "Market data for " + symbol + " is unavailable right now.",
	}
}

type fakeBatcher struct {
	quotes []market.Quote
	err    error
}

func (f *fakeBatcher) Quotes(context.Context, []string) ([]market.Quote, error) {
	return f.quotes, f.err
}

type postCall struct {
	dest string
	text string
}

type fakePoster struct {
	mu    sync.Mutex
	posts []postCall
}

func (f *fakePoster) Post(_ context.Context, dest, content string) {
	f.mu.Lock()
	f.posts = append(f.posts, postCall{dest: dest, text: content})
	f.mu.Unlock()
}

type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) Complete(context.Context, string) (string, error) {
	return f.text, f.err
}

type auditStore struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (s *auditStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}
func (s *auditStore) RecentAudit(context.Context, int) ([]storage.AuditEntry, error) {
	return nil, nil
}
func (s *auditStore) PutDedup(context.Context, string, time.Time) error { return nil }
func (s *auditStore) GetDedup(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *auditStore) Close() error { return nil }

func ctxFor(symbol string, price, change float64) market.Context {
	return market.Context{
		Symbol:    symbol,
		Quote:     &market.Quote{Symbol: symbol, Price: price, ChangePercent: change},
		DayChange: change,
	}
}

func allIndices() *fakeFetcher {
	return &fakeFetcher{contexts: map[string]market.Context{
		"SPY":  ctxFor("SPY", 512.30, 0.82),
		"QQQ":  ctxFor("QQQ", 445.10, 1.14),
		"IWM":  ctxFor("IWM", 201.55, -0.40),
		"^VIX": ctxFor("^VIX", 14.20, -3.10),
	}}
}

func TestMorningBriefingPostsIndexRows(t *testing.T) {
	post := &fakePoster{}
	svc := New(Config{}, allIndices(), &fakeBatcher{}, post, logx.Nop())

	if err := svc.Morning(context.Background()); err != nil {
		t.Fatalf("Morning: %v", err)
	}

	if len(post.posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(post.posts))
	}
	if post.posts[0].dest != "general" {
		t.Fatalf("posted to %q", post.posts[0].dest)
	}
	text := post.posts[0].text
	for _, want := range []string{"Morning briefing", "SPY", "512.30", "+0.82%", "QQQ", "IWM"} {
		if !strings.Contains(text, want) {
			t.Fatalf("briefing missing %q:\n%s", want, text)
		}
	}
	// The caret prefix stays out of the rendered row.
	if strings.Contains(text, "^VIX") || !strings.Contains(text, "VIX") {
		t.Fatalf("VIX row rendered wrong:\n%s", text)
	}
	if strings.Contains(text, "Commentary") {
		t.Fatalf("commentary rendered without a completer:\n%s", text)
	}
}

func TestBriefingDegradesWhenAllDataMissing(t *testing.T) {
	post := &fakePoster{}
	svc := New(Config{}, &fakeFetcher{}, &fakeBatcher{}, post, logx.Nop())

	if err := svc.Morning(context.Background()); err != nil {
		t.Fatalf("Morning: %v", err)
	}

	if len(post.posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(post.posts))
	}
	text := post.posts[0].text
	if !strings.Contains(text, "data unavailable") {
		t.Fatalf("missing unavailable rows:\n%s", text)
	}
	if !strings.Contains(text, "retrying on the next run") {
		t.Fatalf("missing honest degradation line:\n%s", text)
	}
}

func TestCommentaryAppended(t *testing.T) {
	post := &fakePoster{}
	svc := New(Config{}, allIndices(), &fakeBatcher{}, post, logx.Nop())
	svc.SetCompleter(&fakeCompleter{text: "Futures look heavy into the open."})

	if err := svc.Morning(context.Background()); err != nil {
		t.Fatalf("Morning: %v", err)
	}

	text := post.posts[0].text
	if !strings.Contains(text, "Commentary") || !strings.Contains(text, "Futures look heavy") {
		t.Fatalf("commentary missing:\n%s", text)
	}
}

func TestCommentaryNotConfiguredIsSilent(t *testing.T) {
	post := &fakePoster{}
	svc := New(Config{}, allIndices(), &fakeBatcher{}, post, logx.Nop())
	svc.SetCompleter(&fakeCompleter{err: ai.ErrNotConfigured})

	if err := svc.Morning(context.Background()); err != nil {
		t.Fatalf("Morning: %v", err)
	}
	if strings.Contains(post.posts[0].text, "Commentary") {
		t.Fatalf("commentary rendered despite missing configuration:\n%s", post.posts[0].text)
	}
}

func TestCommentaryErrorDegrades(t *testing.T) {
	post := &fakePoster{}
	svc := New(Config{}, allIndices(), &fakeBatcher{}, post, logx.Nop())
	svc.SetCompleter(&fakeCompleter{err: errors.New("rate limited")})

	if err := svc.Morning(context.Background()); err != nil {
		t.Fatalf("Morning: %v", err)
	}
	if strings.Contains(post.posts[0].text, "Commentary") {
		t.Fatalf("commentary rendered after completer error:\n%s", post.posts[0].text)
	}
}

func TestEveningWrapTitle(t *testing.T) {
	post := &fakePoster{}
	svc := New(Config{}, allIndices(), &fakeBatcher{}, post, logx.Nop())

	if err := svc.Evening(context.Background()); err != nil {
		t.Fatalf("Evening: %v", err)
	}
	if !strings.Contains(post.posts[0].text, "Evening wrap") {
		t.Fatalf("title missing:\n%s", post.posts[0].text)
	}
}

func TestBriefingAudited(t *testing.T) {
	post := &fakePoster{}
	store := &auditStore{}
	svc := New(Config{}, allIndices(), &fakeBatcher{}, post, logx.Nop())
	svc.SetStore(store)

	if err := svc.Morning(context.Background()); err != nil {
		t.Fatalf("Morning: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Kind != storage.AuditBriefing || e.Action != "morning_briefing" || !e.OK {
		t.Fatalf("audit entry = %+v", e)
	}
}
