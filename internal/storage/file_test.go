package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "gexbot/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if st == nil {
		t.Fatalf("open returned nil store")
	}
	return st
}

func TestFileStoreAuditRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := AuditEntry{
			Kind:   AuditAlert,
			Actor:  "monitor",
			Symbol: "SPY",
			Action: fmt.Sprintf("flip-%d", i),
			OK:     true,
		}
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := st.RecentAudit(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recent returned %d entries, want 3", len(got))
	}
	if got[0].Action != "flip-2" || got[2].Action != "flip-4" {
		t.Fatalf("wrong tail order: %q .. %q", got[0].Action, got[2].Action)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: the tail must survive the restart.
	st2 := openTestStore(t, dir)
	defer st2.Close()
	got, err = st2.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("recent after reopen: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("recent after reopen returned %d entries, want 5", len(got))
	}
	if got[4].Action != "flip-4" {
		t.Fatalf("newest after reopen = %q, want flip-4", got[4].Action)
	}
}

func TestFileStoreRecentRingOverflow(t *testing.T) {
	st := openTestStore(t, t.TempDir())
	defer st.Close()
	ctx := context.Background()

	total := recentAuditCap + 17
	for i := 0; i < total; i++ {
		if err := st.AppendAudit(ctx, AuditEntry{Kind: AuditScan, Action: fmt.Sprintf("run-%d", i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := st.RecentAudit(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != recentAuditCap {
		t.Fatalf("ring holds %d entries, want %d", len(got), recentAuditCap)
	}
	if want := fmt.Sprintf("run-%d", total-1); got[len(got)-1].Action != want {
		t.Fatalf("newest = %q, want %q", got[len(got)-1].Action, want)
	}
	if want := fmt.Sprintf("run-%d", total-recentAuditCap); got[0].Action != want {
		t.Fatalf("oldest = %q, want %q", got[0].Action, want)
	}
}

func TestFileStoreDedupSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	st := openTestStore(t, dir)
	ctx := context.Background()

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, "owner:perm:trading", until); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatalf("unexpected hit for missing key")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2 := openTestStore(t, dir)
	defer st2.Close()
	got, ok, err := st2.GetDedup(ctx, "owner:perm:trading")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("dedup entry lost across reopen")
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: ""}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled open = (%v, %v), want (nil, nil)", st, err)
	}
}
