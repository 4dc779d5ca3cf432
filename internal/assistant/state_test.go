package assistant

import (
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/jarvis/internal/store"
)

// managed creates an extra session in the rig's store and an assistant
// bound to it, for multi-session tests.
func (r *testRig) managed(id, username string) *Assistant {
	r.t.Helper()
	now := time.Now()
	sess := &store.Session{ID: id, Username: username, CreatedAt: now, LastActive: now, Status: "active", Metadata: map[string]string{}}
	if err := r.store.CreateSession(sess); err != nil {
		r.t.Fatalf("Failed to create session: %v", err)
	}
	deps := r.deps(DefaultConfig())
	deps.Session = sess
	a, err := New(deps)
	if err != nil {
		r.t.Fatalf("Failed to create assistant: %v", err)
	}
	return a
}

func TestStateManager_PutGet(t *testing.T) {
	r := newTestRig(t)
	sm := NewStateManager(0, r.bus, r.obs)

	if sm.timeout != DefaultSessionTimeout {
		t.Errorf("expected default timeout, got %v", sm.timeout)
	}

	a := r.managed("sess-a", "alice")
	sm.Put(a, "alice")

	got, ok := sm.Get("sess-a")
	if !ok || got != a {
		t.Error("expected to get the registered assistant back")
	}
	if _, ok := sm.Get("missing"); ok {
		t.Error("expected miss for unknown session")
	}
	if sm.Len() != 1 {
		t.Errorf("expected 1 session, got %d", sm.Len())
	}
}

func TestStateManager_Touch(t *testing.T) {
	r := newTestRig(t)
	sm := NewStateManager(time.Hour, r.bus, r.obs)

	sm.Put(r.managed("sess-a", "alice"), "alice")
	before := sm.Sessions()[0]

	sm.Touch("sess-a")

	after := sm.Sessions()[0]
	if after.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", after.MessageCount)
	}
	if after.LastActive.Before(before.LastActive) {
		t.Error("expected activity clock to advance")
	}

	// Touching an unknown session is a no-op.
	sm.Touch("missing")
}

func TestStateManager_SessionsOrder(t *testing.T) {
	r := newTestRig(t)
	sm := NewStateManager(time.Hour, r.bus, r.obs)

	sm.Put(r.managed("sess-a", "alice"), "alice")
	sm.Put(r.managed("sess-b", "bob"), "bob")
	sm.Touch("sess-a")

	infos := sm.Sessions()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].SessionID != "sess-a" {
		t.Errorf("expected most recently active first, got %q", infos[0].SessionID)
	}
	if infos[1].Username != "bob" {
		t.Errorf("expected bob second, got %q", infos[1].Username)
	}
}

func TestStateManager_Remove(t *testing.T) {
	r := newTestRig(t)
	sm := NewStateManager(time.Hour, r.bus, r.obs)

	a := r.managed("sess-a", "alice")
	sm.Put(a, "alice")

	got, ok := sm.Remove("sess-a")
	if !ok || got != a {
		t.Error("expected removed assistant back")
	}
	if sm.Len() != 0 {
		t.Errorf("expected empty manager, got %d", sm.Len())
	}
	if _, ok := sm.Remove("sess-a"); ok {
		t.Error("expected second remove to miss")
	}
}

func TestStateManager_Sweep(t *testing.T) {
	r := newTestRig(t)
	sm := NewStateManager(time.Minute, r.bus, r.obs)

	var mu sync.Mutex
	var expired []string
	r.bus.Subscribe(EventSessionExpired, func(e Event) {
		mu.Lock()
		expired = append(expired, e.SessionID)
		mu.Unlock()
	})

	sm.Put(r.managed("sess-a", "alice"), "alice")
	sm.Put(r.managed("sess-b", "bob"), "bob")

	if n := sm.sweepOnce(time.Now()); n != 0 {
		t.Errorf("expected nothing swept while fresh, got %d", n)
	}

	if n := sm.sweepOnce(time.Now().Add(time.Hour)); n != 2 {
		t.Errorf("expected both sessions swept, got %d", n)
	}
	if sm.Len() != 0 {
		t.Errorf("expected empty manager after sweep, got %d", sm.Len())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 2 {
		t.Errorf("expected 2 expiry events, got %d", len(expired))
	}
}

func TestStateManager_Stop(t *testing.T) {
	r := newTestRig(t)
	sm := NewStateManager(time.Minute, r.bus, r.obs)

	sm.StartSweeper()
	sm.Stop()
	sm.Stop() // second stop must not panic
}
