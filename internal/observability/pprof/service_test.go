package pprof

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenGuard(t *testing.T) {
	var hits int
	h := withToken("s3cret", func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	cases := map[string]struct {
		query  string
		header string
		want   int
	}{
		"no credentials":   {want: http.StatusUnauthorized},
		"good query token": {query: "?token=s3cret", want: http.StatusOK},
		"bad query token":  {query: "?token=nope", want: http.StatusUnauthorized},
		"good bearer":      {header: "Bearer s3cret", want: http.StatusOK},
		"bad bearer":       {header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/debug/pprof/"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if hits != 2 {
		t.Fatalf("handler ran %d times, want 2", hits)
	}
}

func TestEmptyTokenDisablesGuard(t *testing.T) {
	h := withToken("", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLoopbackDetection(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		"0.0.0.0:6060":   false,
		":6060":          false,
		"10.0.0.5:6060":  false,
		"bad":            false,
	}
	for addr, want := range cases {
		if got := isLoopback(addr); got != want {
			t.Fatalf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestPrefixNormalization(t *testing.T) {
	cases := map[string]string{
		"":             "/debug/pprof/",
		"debug/pprof":  "/debug/pprof/",
		"/prof":        "/prof/",
		"/debug/prof/": "/debug/prof/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
