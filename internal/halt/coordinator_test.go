package halt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gexbot/internal/eventbus"
	"gexbot/internal/storage"
	"gexbot/pkg/logx"
)

type fakeHalter struct{ calls int }

func (f *fakeHalter) HaltAll(context.Context) { f.calls++ }

type fakeEngine struct {
	ref   string
	err   error
	calls int
}

func (f *fakeEngine) Kill(context.Context) (string, error) {
	f.calls++
	return f.ref, f.err
}

type fakeNotifier struct {
	dests []string
	texts []string
}

func (f *fakeNotifier) PostUrgent(_ context.Context, dest, content string) {
	f.dests = append(f.dests, dest)
	f.texts = append(f.texts, content)
}

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (s *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}
func (s *memAudit) RecentAudit(context.Context, int) ([]storage.AuditEntry, error) {
	return nil, nil
}
func (s *memAudit) PutDedup(context.Context, string, time.Time) error { return nil }
func (s *memAudit) GetDedup(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *memAudit) Close() error { return nil }

func (s *memAudit) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

func TestStopRunsFullSequence(t *testing.T) {
	halter := &fakeHalter{}
	engine := &fakeEngine{ref: "pm-20260302-a1"}
	notify := &fakeNotifier{}
	store := &memAudit{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	c := New(Config{Dest: "trading"}, halter, engine, notify, logx.Nop(), bus)
	c.SetStore(store)

	res := c.Stop(context.Background(), "user:42")

	if res.StopID == "" {
		t.Fatal("empty stop ID")
	}
	if res.PostMortemRef != "pm-20260302-a1" {
		t.Fatalf("PostMortemRef = %q", res.PostMortemRef)
	}
	if halter.calls != 1 || engine.calls != 1 {
		t.Fatalf("halter=%d engine=%d calls", halter.calls, engine.calls)
	}
	if len(notify.dests) != 1 || notify.dests[0] != "trading" {
		t.Fatalf("notified %v", notify.dests)
	}
	if !strings.Contains(notify.texts[0], "Emergency stop") || !strings.Contains(notify.texts[0], "pm-20260302-a1") {
		t.Fatalf("notification text = %q", notify.texts[0])
	}

	want := []string{"stop_requested", "engine_kill", "stop_completed"}
	got := store.actions()
	if len(got) != len(want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit actions = %v, want %v", got, want)
		}
	}

	select {
	case e := <-events:
		if e.Type != eventbus.TypeEmergencyStop {
			t.Fatalf("event type = %q", e.Type)
		}
		if got := e.Data.(StopEvent); got.Actor != "user:42" || got.StopID != res.StopID {
			t.Fatalf("stop event = %+v", got)
		}
	default:
		t.Fatal("no emergency stop event published")
	}
}

func TestEngineKillFailureStillCompletes(t *testing.T) {
	engine := &fakeEngine{err: errors.New("engine unreachable")}
	notify := &fakeNotifier{}
	store := &memAudit{}

	c := New(Config{}, &fakeHalter{}, engine, notify, logx.Nop(), nil)
	c.SetStore(store)

	res := c.Stop(context.Background(), "user:42")

	if res.StopID == "" {
		t.Fatal("empty stop ID")
	}
	if res.PostMortemRef != "" {
		t.Fatalf("PostMortemRef = %q, want empty", res.PostMortemRef)
	}
	if len(notify.texts) != 1 || !strings.Contains(notify.texts[0], "kill failed") {
		t.Fatalf("notification = %v", notify.texts)
	}

	var killEntry *storage.AuditEntry
	for i := range store.entries {
		if store.entries[i].Action == "engine_kill" {
			killEntry = &store.entries[i]
		}
	}
	if killEntry == nil || killEntry.OK || killEntry.Error == "" {
		t.Fatalf("engine_kill audit = %+v", killEntry)
	}
	// The sequence still ran to completion.
	if got := store.actions(); got[len(got)-1] != "stop_completed" {
		t.Fatalf("audit actions = %v", got)
	}
}

func TestStopIsRepeatable(t *testing.T) {
	halter := &fakeHalter{}
	engine := &fakeEngine{ref: "pm-1"}
	notify := &fakeNotifier{}

	c := New(Config{}, halter, engine, notify, logx.Nop(), nil)

	first := c.Stop(context.Background(), "user:42")
	second := c.Stop(context.Background(), "user:42")

	if first.StopID == second.StopID {
		t.Fatal("stop IDs must be distinct")
	}
	if halter.calls != 2 || engine.calls != 2 || len(notify.texts) != 2 {
		t.Fatalf("halter=%d engine=%d notes=%d", halter.calls, engine.calls, len(notify.texts))
	}
}

func TestNilEngineDefaultsToNoop(t *testing.T) {
	notify := &fakeNotifier{}
	c := New(Config{}, &fakeHalter{}, nil, notify, logx.Nop(), nil)

	res := c.Stop(context.Background(), "user:42")

	if res.PostMortemRef != "" {
		t.Fatalf("PostMortemRef = %q", res.PostMortemRef)
	}
	if len(notify.texts) != 1 || !strings.Contains(notify.texts[0], "Trading engine halted.") {
		t.Fatalf("notification = %v", notify.texts)
	}
}
