package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gexbot/internal/storage"
	"gexbot/internal/transport"
	logx "gexbot/pkg/logx"
)

type sentCall struct {
	To   transport.ChatTarget
	Text string
	At   time.Time
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	fn    func(n int, to transport.ChatTarget, text string) error
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, sentCall{To: to, Text: text, At: time.Now()})
	f.mu.Unlock()
	if f.fn != nil {
		if err := f.fn(n, to, text); err != nil {
			return transport.MessageRef{}, err
		}
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: n + 1}, nil
}

func (f *fakeSender) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeResolver struct {
	mu      sync.Mutex
	calls   int
	targets []transport.ChatTarget
	err     error
}

func (f *fakeResolver) ResolveChat(ctx context.Context, ref string) (transport.ChatTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.ChatTarget{}, f.err
	}
	idx := f.calls
	if idx >= len(f.targets) {
		idx = len(f.targets) - 1
	}
	f.calls++
	return f.targets[idx], nil
}

type memStore struct {
	mu    sync.Mutex
	dedup map[string]time.Time
	audit []storage.AuditEntry
}

func newMemStore() *memStore { return &memStore{dedup: map[string]time.Time{}} }

func (m *memStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}
func (m *memStore) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	return nil, nil
}
func (m *memStore) entries() []storage.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}
func (m *memStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[key] = until
	return nil
}
func (m *memStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.dedup[key]
	return u, ok, nil
}
func (m *memStore) Close() error { return nil }

func testBindings() map[string]Binding {
	return map[string]Binding{
		"trading": {Chat: "-100"},
		"general": {Chat: "-200"},
		"owner":   {Chat: "999"},
	}
}

func newTestDispatcher(cfg Config, s *fakeSender) *Dispatcher {
	d := New(cfg, s, logx.Nop(), nil)
	d.SetBindings(testBindings())
	return d
}

func TestMinGapBetweenConsecutiveSends(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(Config{MinGap: 60 * time.Millisecond}, s)
	ctx := context.Background()

	d.Post(ctx, "trading", "first")
	d.Post(ctx, "trading", "second")

	calls := s.sent()
	if len(calls) != 2 {
		t.Fatalf("got %d sends, want 2", len(calls))
	}
	if gap := calls[1].At.Sub(calls[0].At); gap < 55*time.Millisecond {
		t.Fatalf("sends %v apart, want >= 60ms", gap)
	}
	if got := d.Stats().Delivered; got != 2 {
		t.Fatalf("delivered = %d", got)
	}
}

func TestDestinationsPacedIndependently(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(Config{MinGap: 300 * time.Millisecond}, s)
	ctx := context.Background()

	start := time.Now()
	d.Post(ctx, "trading", "a")
	d.Post(ctx, "general", "b")

	if took := time.Since(start); took > 150*time.Millisecond {
		t.Fatalf("cross-destination posts took %v, gap must not apply across destinations", took)
	}
	if len(s.sent()) != 2 {
		t.Fatalf("got %d sends", len(s.sent()))
	}
}

func TestBackpressureRetriesExactlyOnce(t *testing.T) {
	s := &fakeSender{}
	s.fn = func(n int, to transport.ChatTarget, text string) error {
		if n == 0 {
			return transport.Backpressure(errors.New("429"), 40*time.Millisecond)
		}
		return nil
	}
	d := newTestDispatcher(Config{}, s)

	d.Post(context.Background(), "trading", "hello")

	calls := s.sent()
	if len(calls) != 2 {
		t.Fatalf("got %d attempts, want 2", len(calls))
	}
	if gap := calls[1].At.Sub(calls[0].At); gap < 35*time.Millisecond {
		t.Fatalf("retry after %v, want >= 40ms", gap)
	}
	st := d.Stats()
	if st.Delivered != 1 || st.Retried != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBackpressureSecondFailureAbandons(t *testing.T) {
	s := &fakeSender{}
	s.fn = func(n int, to transport.ChatTarget, text string) error {
		return transport.Backpressure(errors.New("429"), 5*time.Millisecond)
	}
	d := newTestDispatcher(Config{}, s)

	d.Post(context.Background(), "trading", "hello")

	if len(s.sent()) != 2 {
		t.Fatalf("got %d attempts, want exactly 2 (no third try)", len(s.sent()))
	}
	st := d.Stats()
	if st.Delivered != 0 || st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestGoneDestinationRebindsAndRetries(t *testing.T) {
	s := &fakeSender{}
	s.fn = func(n int, to transport.ChatTarget, text string) error {
		if to.ChatID == -100100 {
			return transport.TargetGone(errors.New("upgraded to a supergroup"))
		}
		return nil
	}
	d := New(Config{}, s, logx.Nop(), nil)
	d.SetBindings(map[string]Binding{
		"trading": {Chat: "@trades"},
		"owner":   {Chat: "999"},
	})
	res := &fakeResolver{targets: []transport.ChatTarget{
		{ChatID: -100100},
		{ChatID: -100555},
	}}
	d.SetResolver(res)

	d.Post(context.Background(), "trading", "flip alert")

	calls := s.sent()
	if len(calls) != 2 {
		t.Fatalf("got %d attempts, want 2", len(calls))
	}
	if calls[0].To.ChatID != -100100 || calls[1].To.ChatID != -100555 {
		t.Fatalf("targets = %v, %v", calls[0].To, calls[1].To)
	}
	st := d.Stats()
	if st.Delivered != 1 || st.Retried != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestGoneNumericBindingEscalatesToOwner(t *testing.T) {
	s := &fakeSender{}
	s.fn = func(n int, to transport.ChatTarget, text string) error {
		if to.ChatID == -100 {
			return transport.TargetGone(errors.New("chat not found"))
		}
		return nil
	}
	d := newTestDispatcher(Config{OwnerPreview: 20}, s)

	d.Post(context.Background(), "trading", strings.Repeat("x", 100))

	calls := s.sent()
	if len(calls) != 2 {
		t.Fatalf("got %d sends, want failed post + owner note", len(calls))
	}
	note := calls[1]
	if note.To.ChatID != 999 {
		t.Fatalf("owner note went to %d", note.To.ChatID)
	}
	if !strings.Contains(note.Text, "gone") || !strings.Contains(note.Text, `"trading"`) {
		t.Fatalf("note = %q", note.Text)
	}
	if !strings.Contains(note.Text, strings.Repeat("x", 20)+"…") {
		t.Fatalf("note preview not bounded: %q", note.Text)
	}
	if strings.Contains(note.Text, strings.Repeat("x", 21)) {
		t.Fatalf("preview exceeds bound: %q", note.Text)
	}
}

func TestOwnerNotesDeduplicated(t *testing.T) {
	s := &fakeSender{}
	s.fn = func(n int, to transport.ChatTarget, text string) error {
		if to.ChatID == -100 {
			return transport.PermissionDenied(errors.New("bot was kicked"))
		}
		return nil
	}
	d := newTestDispatcher(Config{OwnerDedupWindow: time.Hour}, s)
	d.SetStore(newMemStore())

	d.Post(context.Background(), "trading", "one")
	d.Post(context.Background(), "trading", "two")

	owner := 0
	for _, c := range s.sent() {
		if c.To.ChatID == 999 {
			owner++
		}
	}
	if owner != 1 {
		t.Fatalf("got %d owner notes, want 1 (second suppressed)", owner)
	}
	if got := d.Stats().Suppressed; got != 1 {
		t.Fatalf("suppressed = %d", got)
	}
}

func TestAbandonedSendAudited(t *testing.T) {
	s := &fakeSender{}
	s.fn = func(n int, to transport.ChatTarget, text string) error {
		if to.ChatID == -100 {
			return transport.PermissionDenied(errors.New("bot was kicked"))
		}
		return nil
	}
	d := newTestDispatcher(Config{}, s)
	st := newMemStore()
	d.SetStore(st)

	d.Post(context.Background(), "trading", "doomed")

	var entry *storage.AuditEntry
	for _, e := range st.entries() {
		if e.Kind == storage.AuditDispatch {
			cp := e
			entry = &cp
		}
	}
	if entry == nil {
		t.Fatal("abandoned send left no dispatch audit entry")
	}
	if entry.Action != "send_dropped_permission" || entry.OK || entry.Dest != "trading" {
		t.Fatalf("entry = %+v", *entry)
	}
}

func TestOwnerFailureNeverEscalatesItself(t *testing.T) {
	s := &fakeSender{}
	s.fn = func(n int, to transport.ChatTarget, text string) error {
		return transport.PermissionDenied(errors.New("kicked everywhere"))
	}
	d := newTestDispatcher(Config{}, s)

	d.Post(context.Background(), "trading", "doomed")

	// One attempt at trading, one owner note attempt, and nothing more.
	if got := len(s.sent()); got != 2 {
		t.Fatalf("got %d attempts, want 2", got)
	}
}

func TestHaltedDropsPostButNotUrgent(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(Config{}, s)
	halted := true
	d.SetHalted(func() bool { return halted })

	d.Post(context.Background(), "trading", "routine")
	if len(s.sent()) != 0 {
		t.Fatal("halted post must not reach the transport")
	}

	d.PostUrgent(context.Background(), "trading", "emergency stop executed")
	if len(s.sent()) != 1 {
		t.Fatal("urgent post must go out while halted")
	}
}

func TestUnknownDestinationSwallowed(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(Config{}, s)

	d.Post(context.Background(), "nope", "hi")

	if len(s.sent()) != 0 {
		t.Fatal("send must not happen")
	}
	if got := d.Stats().Failed; got != 1 {
		t.Fatalf("failed = %d", got)
	}
}

func TestApplyInvalidatesChangedDestinations(t *testing.T) {
	s := &fakeSender{}
	d := New(Config{}, s, logx.Nop(), nil)
	d.SetBindings(map[string]Binding{"trading": {Chat: "-100"}})

	d.Post(context.Background(), "trading", "a")

	bindings := map[string]Binding{"trading": {Chat: "-777"}}
	d.Apply(Config{}, bindings, []string{"trading"})

	d.Post(context.Background(), "trading", "b")

	calls := s.sent()
	if len(calls) != 2 {
		t.Fatalf("got %d sends", len(calls))
	}
	if calls[1].To.ChatID != -777 {
		t.Fatalf("second send went to %d, want rebound -777", calls[1].To.ChatID)
	}
}
