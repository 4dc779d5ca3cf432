package assistant

import (
	"sync"
	"testing"
	"time"
)

func TestNewEventBus(t *testing.T) {
	eb := NewEventBus()
	if eb == nil {
		t.Fatal("expected non-nil EventBus")
	}
	if eb.handlers == nil {
		t.Fatal("expected non-nil handlers map")
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus()
	called := false

	eb.Subscribe(EventChatStart, func(e Event) {
		called = true
	})

	eb.Publish(Event{Type: EventChatStart})

	if !called {
		t.Error("handler was not called")
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	eb := NewEventBus()
	count := 0

	eb.SubscribeAll(func(e Event) {
		count++
	})

	eb.Publish(Event{Type: EventChatStart})
	eb.Publish(Event{Type: EventToolCalls})
	eb.Publish(Event{Type: EventChatReply})

	if count != 3 {
		t.Errorf("expected 3 calls, got %d", count)
	}
}

func TestEventBus_PublishWithData(t *testing.T) {
	eb := NewEventBus()
	var received Event

	eb.Subscribe(EventToolCalls, func(e Event) {
		received = e
	})

	data := map[string]interface{}{"count": 2}
	eb.PublishWithData(EventToolCalls, "sess-123", data)

	if received.SessionID != "sess-123" {
		t.Errorf("expected session 'sess-123', got %q", received.SessionID)
	}
	if received.Data["count"] != 2 {
		t.Error("data not properly passed")
	}
}

func TestEventBus_PublishSimple(t *testing.T) {
	eb := NewEventBus()
	var received Event

	eb.Subscribe(EventChatReply, func(e Event) {
		received = e
	})

	eb.PublishSimple(EventChatReply, "sess-456")

	if received.SessionID != "sess-456" {
		t.Errorf("expected session 'sess-456', got %q", received.SessionID)
	}
	if received.Type != EventChatReply {
		t.Errorf("expected type EventChatReply, got %v", received.Type)
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus()
	var received Event

	eb.Subscribe(EventChatStart, func(e Event) {
		received = e
	})

	before := time.Now()
	eb.Publish(Event{Type: EventChatStart})
	after := time.Now()

	if received.Timestamp.Before(before) || received.Timestamp.After(after) {
		t.Error("timestamp not set correctly")
	}
}

func TestEventBus_MultipleHandlers(t *testing.T) {
	eb := NewEventBus()
	count := 0
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		eb.Subscribe(EventChatStart, func(e Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	eb.Publish(Event{Type: EventChatStart})

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("expected 5 handler calls, got %d", count)
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	eb := NewEventBus()
	startCalled := false
	replyCalled := false

	eb.Subscribe(EventChatStart, func(e Event) {
		startCalled = true
	})
	eb.Subscribe(EventChatReply, func(e Event) {
		replyCalled = true
	})

	eb.Publish(Event{Type: EventChatStart})

	if !startCalled {
		t.Error("start handler was not called")
	}
	if replyCalled {
		t.Error("reply handler should not have been called")
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	eb := NewEventBus()
	var count int
	var mu sync.Mutex

	eb.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Publish(Event{Type: EventChatStart})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 100 {
		t.Errorf("expected 100 events, got %d", count)
	}
}

func TestEventType_Constants(t *testing.T) {
	types := []EventType{
		EventChatStart,
		EventChatReply,
		EventProviderResponse,
		EventToolCalls,
		EventGuardViolation,
		EventImportComplete,
		EventMaintenanceComplete,
		EventContextSummarized,
		EventBackupComplete,
		EventSessionExpired,
	}

	for _, et := range types {
		if string(et) == "" {
			t.Error("event type should not be empty")
		}
	}
}
