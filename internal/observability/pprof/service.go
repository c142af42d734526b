// Package pprof serves the runtime profiling endpoints over HTTP, guarded
// against accidental public exposure: non-loopback binds require a bearer
// token unless explicitly allowed.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"gexbot/internal/runtime/supervisor"
	"gexbot/pkg/logx"
)

type Config struct {
	Enabled       bool
	Addr          string // default "127.0.0.1:6060"
	Prefix        string // default "/debug/pprof/"
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 keeps /profile (30s+) working
	IdleTimeout  time.Duration
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return "127.0.0.1:6060"
}

// Service runs the profiling server under a restart loop so a transient
// listen failure self-heals without taking the process down.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	sup *supervisor.Supervisor
	srv *http.Server
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// Apply swaps the configuration during hot reload, starting, stopping or
// restarting the server as the delta requires.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case restartNeeded(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func restartNeeded(a, b Config) bool {
	return a.addr() != b.addr() ||
		normalizePrefix(a.Prefix) != normalizePrefix(b.Prefix) ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

// Start is idempotent. The server lifetime is bound to ctx.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "pprof"))),
		supervisor.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serve,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the server down, waiting up to the ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	_ = sup.Wait(ctx)
	s.log.Info("pprof stopped")
}

func (s *Service) serve(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return context.Canceled
	}

	addr := cfg.addr()
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopback(addr) {
		s.log.Error("pprof refused non-loopback bind without token", logx.String("addr", addr))
		return errors.New("pprof: insecure bind refused")
	}
	if cfg.AllowInsecure && cfg.Token == "" && !isLoopback(addr) {
		s.log.Warn("pprof serving without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		s.log.Error("pprof listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	// Serve does not watch ctx on its own.
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", normalizePrefix(cfg.Prefix)),
		logx.Bool("token_set", cfg.Token != ""))

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}

func (s *Service) handler(cfg Config) http.Handler {
	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	guard := func(h http.HandlerFunc) http.HandlerFunc { return withToken(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc(prefix, guard(indexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", guard(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", guard(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", guard(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", guard(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

func withToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("token"); q != "" {
			if q == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const bearer = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, bearer) {
			if strings.TrimSpace(strings.TrimPrefix(ah, bearer)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// The stock index handler assumes it is mounted at /debug/pprof/; rewrite
// the path so custom prefixes still resolve named profiles.
func indexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}
}

func isLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false // empty host binds all interfaces
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
