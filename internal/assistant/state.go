package assistant

import (
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/jarvis/internal/observe"
)

const (
	// DefaultSessionTimeout is how long an HTTP session may sit idle
	// before the sweeper retires it.
	DefaultSessionTimeout = 3 * time.Hour

	sweepInterval = 10 * time.Minute
)

// SessionInfo is the public snapshot of one live session.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int       `json:"message_count"`
}

type managedSession struct {
	assistant *Assistant
	info      SessionInfo
}

// StateManager tracks the assistants serving live sessions. The HTTP
// server routes requests through it; an idle session is swept out after
// the timeout and its assistant closed.
type StateManager struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession
	timeout  time.Duration
	bus      *EventBus
	obs      *observe.Observer

	done     chan struct{}
	stopOnce sync.Once
	sweeps   sync.WaitGroup
}

// NewStateManager creates a manager. A non-positive timeout falls back
// to the default; a nil bus gets a private one.
func NewStateManager(timeout time.Duration, bus *EventBus, obs *observe.Observer) *StateManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if bus == nil {
		bus = NewEventBus()
	}
	return &StateManager{
		sessions: make(map[string]*managedSession),
		timeout:  timeout,
		bus:      bus,
		obs:      obs,
		done:     make(chan struct{}),
	}
}

// Put registers an assistant under its session ID.
func (sm *StateManager) Put(a *Assistant, username string) {
	now := time.Now()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[a.SessionID()] = &managedSession{
		assistant: a,
		info: SessionInfo{
			SessionID:  a.SessionID(),
			Username:   username,
			CreatedAt:  now,
			LastActive: now,
		},
	}
}

// Get returns the assistant for a session, if it is still live.
func (sm *StateManager) Get(id string) (*Assistant, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	return ms.assistant, true
}

// Touch bumps the activity clock and message counter for a session.
func (sm *StateManager) Touch(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if ms, ok := sm.sessions[id]; ok {
		ms.info.LastActive = time.Now()
		ms.info.MessageCount++
	}
}

// Remove takes a session out of the manager and returns its assistant.
// The caller owns closing it.
func (sm *StateManager) Remove(id string) (*Assistant, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	delete(sm.sessions, id)
	return ms.assistant, true
}

// Len returns the number of live sessions.
func (sm *StateManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Sessions returns a snapshot of all live sessions, most recently
// active first.
func (sm *StateManager) Sessions() []SessionInfo {
	sm.mu.RLock()
	infos := make([]SessionInfo, 0, len(sm.sessions))
	for _, ms := range sm.sessions {
		infos = append(infos, ms.info)
	}
	sm.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActive.After(infos[j].LastActive)
	})
	return infos
}

// StartSweeper launches the background goroutine that retires idle
// sessions. Stop shuts it down.
func (sm *StateManager) StartSweeper() {
	sm.sweeps.Add(1)
	go func() {
		defer sm.sweeps.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sm.sweepOnce(time.Now())
			case <-sm.done:
				return
			}
		}
	}()
}

// Stop halts the sweeper. Live assistants are left to the caller.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.done) })
	sm.sweeps.Wait()
}

// sweepOnce retires every session idle past the timeout and reports how
// many were removed.
func (sm *StateManager) sweepOnce(now time.Time) int {
	sm.mu.Lock()
	var expired []*managedSession
	for id, ms := range sm.sessions {
		if now.Sub(ms.info.LastActive) > sm.timeout {
			expired = append(expired, ms)
			delete(sm.sessions, id)
		}
	}
	remaining := len(sm.sessions)
	sm.mu.Unlock()

	for _, ms := range expired {
		ms.assistant.Close()
		sm.bus.PublishSimple(EventSessionExpired, ms.info.SessionID)
		sm.obs.Log().Info().
			Str("session_id", ms.info.SessionID).
			Str("username", ms.info.Username).
			Msg("idle session retired")
	}
	if len(expired) > 0 {
		sm.obs.Log().Info().Int("active", remaining).Msg("session sweep complete")
	}
	return len(expired)
}
