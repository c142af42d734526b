package trading

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "gexbot/pkg/logx"
)

func TestKillReturnsPostMortemRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/halt" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing request id")
		}
		w.Write([]byte(`{"status":"halted","post_mortem_ref":"pm-20260302-001"}`))
	}))
	defer srv.Close()

	e := NewHTTP(Config{BaseURL: srv.URL}, logx.Nop())
	ref, err := e.Kill(context.Background())
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if ref != "pm-20260302-001" {
		t.Fatalf("ref = %q", ref)
	}
}

func TestKillAlreadyHaltedIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"status":"already_halted"}`))
	}))
	defer srv.Close()

	e := NewHTTP(Config{BaseURL: srv.URL}, logx.Nop())
	if _, err := e.Kill(context.Background()); err != nil {
		t.Fatalf("Kill on halted engine: %v", err)
	}
}

func TestKillServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "panic in executor", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTP(Config{BaseURL: srv.URL}, logx.Nop())
	if _, err := e.Kill(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNoopKill(t *testing.T) {
	ref, err := Noop{}.Kill(context.Background())
	if err != nil || ref != "" {
		t.Fatalf("ref=%q err=%v", ref, err)
	}
}
