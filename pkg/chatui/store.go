package chatui

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TokenStore keeps callback payloads server-side behind short random
// tokens, because callback_data is limited to 64 bytes. Tokens never
// contain ':' so they compose with Data().
type TokenStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	m     map[string]tokenEntry
	sweep time.Time
}

type tokenEntry struct {
	v   string
	exp time.Time
}

func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenStore{ttl: ttl, max: 1000, m: map[string]tokenEntry{}}
}

// Put stores v and returns its token.
func (s *TokenStore) Put(v string) string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	tok := "~" + base64.RawURLEncoding.EncodeToString(buf[:])

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	if len(s.m) >= s.max {
		for k := range s.m {
			delete(s.m, k)
			break
		}
	}
	s.m[tok] = tokenEntry{v: v, exp: now.Add(s.ttl)}
	return tok
}

// Get returns the payload for tok if it is still live.
func (s *TokenStore) Get(tok string) (string, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[tok]
	if !ok || now.After(e.exp) {
		return "", false
	}
	return e.v, true
}

// Take returns and consumes the payload for tok. Confirm buttons use this
// so a token can only fire once.
func (s *TokenStore) Take(tok string) (string, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[tok]
	if !ok || now.After(e.exp) {
		return "", false
	}
	delete(s.m, tok)
	return e.v, true
}

// sweepLocked drops expired entries at most once a minute.
func (s *TokenStore) sweepLocked(now time.Time) {
	if now.Before(s.sweep) {
		return
	}
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.sweep = now.Add(time.Minute)
}
