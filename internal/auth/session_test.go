package auth

import (
	"testing"
	"time"
)

func TestResolveSession_ExpiredTokenIsDropped(t *testing.T) {
	m := NewManager()
	_, token, err := m.Register("alice_01", "secret12")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m.mu.Lock()
	rec := m.sessions[token]
	rec.ExpiresAt = time.Now().Add(-time.Minute)
	m.sessions[token] = rec
	m.mu.Unlock()

	if _, _, ok := m.ResolveSession(token); ok {
		t.Fatalf("expected expired session to be rejected")
	}
	m.mu.Lock()
	_, stillThere := m.sessions[token]
	m.mu.Unlock()
	if stillThere {
		t.Fatalf("expected expired session to be deleted")
	}
}

func TestResolveSession_RefreshesExpiry(t *testing.T) {
	m := NewManager()
	_, token, err := m.Register("alice_01", "secret12")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m.mu.Lock()
	rec := m.sessions[token]
	rec.ExpiresAt = time.Now().Add(time.Minute) // nearly spent
	m.sessions[token] = rec
	m.mu.Unlock()

	if _, _, ok := m.ResolveSession(token); !ok {
		t.Fatalf("expected session to resolve")
	}

	m.mu.Lock()
	refreshed := m.sessions[token].ExpiresAt
	m.mu.Unlock()
	if refreshed.Before(time.Now().Add(m.sessionTTL - time.Minute)) {
		t.Fatalf("expected resolve to push expiry out by the ttl, got %v", refreshed)
	}
}

func TestResolveSession_UnknownToken(t *testing.T) {
	m := NewManager()
	if _, _, ok := m.ResolveSession("never-issued"); ok {
		t.Fatalf("expected unknown token to be rejected")
	}
	if _, _, ok := m.ResolveSession(""); ok {
		t.Fatalf("expected empty token to be rejected")
	}
}
