package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zapbuilder/zapbuild/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeStepAdded, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeScriptExited, func(e Event) {
		received = e
	})
	bus.Subscribe(TypeStepAdded, func(e Event) {
		t.Error("handler for another type should not be called")
	})

	bus.Publish(NewScriptExitedEvent("sess", "step-1", 2, time.Second, "exit status 2"))

	exited, ok := received.(ScriptExitedEvent)
	if !ok {
		t.Fatalf("received %T, want ScriptExitedEvent", received)
	}
	if exited.ExitCode != 2 || exited.StepID != "step-1" || exited.SessionID() != "sess" {
		t.Errorf("unexpected event payload: %+v", exited)
	}
	if exited.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBus_SpecificBeforeWildcard(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "all") })
	bus.Subscribe(TypeFileWritten, func(e Event) { order = append(order, "first") })
	bus.Subscribe(TypeFileWritten, func(e Event) { order = append(order, "second") })

	bus.Publish(NewFileWrittenEvent("s", "index.html", 10, false))

	if got := strings.Join(order, ","); got != "first,second,all" {
		t.Errorf("dispatch order = %s, want first,second,all", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	keep := bus.Subscribe(TypeServerReady, func(e Event) { calls++ })
	drop := bus.Subscribe(TypeServerReady, func(e Event) { calls += 10 })

	if !bus.Unsubscribe(drop) {
		t.Fatal("Unsubscribe should report success for a known ID")
	}
	if bus.Unsubscribe(drop) {
		t.Error("Unsubscribe should report false for a removed ID")
	}
	if bus.Unsubscribe("missing") {
		t.Error("Unsubscribe should report false for an unknown ID")
	}

	bus.Publish(NewServerReadyEvent("s", 5173, "http://localhost:5173"))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	bus.Unsubscribe(keep)
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount = %d, want 0", bus.SubscriptionCount())
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TypeStepAdded, func(Event) {})
	bus.SubscribeAll(func(Event) {})

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after clear, got %d", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, logging.LevelDebug))

	calls := 0
	bus.Subscribe(TypeSessionHalted, func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe(TypeSessionHalted, func(e Event) {
		calls++
	})

	bus.Publish(NewSessionHaltedEvent("s", "step", "exit status 1"))

	if calls != 2 {
		t.Errorf("Expected both handlers to be called despite panic, got %d calls", calls)
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestBus_NilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(NewSessionResetEvent("s", "aborted"))
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(TypeStepUpdated, func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(NewStepUpdatedEvent("s", "step", 1))
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("Expected 100 calls, got %d", calls)
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			id := bus.Subscribe(TypeStepStatus, func(e Event) {})
			bus.Publish(NewStepStatusEvent("s", "step", "pending", "in_progress", ""))
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after concurrent add/remove, got %d", bus.SubscriptionCount())
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewStepAddedEvent("s", "id", "create_file", "Create index.html", "index.html"), TypeStepAdded},
		{NewStepUpdatedEvent("s", "id", 3), TypeStepUpdated},
		{NewStepStatusEvent("s", "id", "pending", "completed", ""), TypeStepStatus},
		{NewFileWrittenEvent("s", "a", 1, true), TypeFileWritten},
		{NewScriptStartedEvent("s", "id", "npm run dev", true), TypeScriptStarted},
		{NewScriptExitedEvent("s", "id", 0, 0, ""), TypeScriptExited},
		{NewServerReadyEvent("s", 3000, "http://localhost:3000"), TypeServerReady},
		{NewSessionHaltedEvent("s", "id", "boom"), TypeSessionHalted},
		{NewSessionFinishedEvent("s", 4, false), TypeSessionFinished},
		{NewSessionResetEvent("s", "new session"), TypeSessionReset},
		{NewProtocolMismatchEvent("s", 120), TypeProtocolMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.event.EventType(); got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
		})
	}
}
