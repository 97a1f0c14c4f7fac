package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureNotifier) Notify(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureNotifier) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &captureNotifier{}
	d := NewDispatcher(16, sink)

	caseID := uuid.New()
	d.Publish(Event{Type: EventCaseBumped, CaseID: caseID})
	d.Close()

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventCaseBumped {
		t.Errorf("expected case.bumped, got %s", events[0].Type)
	}
	if events[0].CaseID != caseID {
		t.Errorf("case ID not preserved")
	}
	if events[0].ID == uuid.Nil {
		t.Error("expected event ID to be assigned")
	}
	if events[0].OccurredAt.IsZero() {
		t.Error("expected occurred_at to be stamped")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// A dispatcher with a tiny queue and a slow notifier must not block
	// Publish.
	slow := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher(1, slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(Event{Type: EventCaseDelayed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on full queue")
	}

	close(slow.release)
	d.Close()
}

type blockingNotifier struct {
	release chan struct{}
}

func (b *blockingNotifier) Notify(_ context.Context, _ Event) error {
	<-b.release
	return nil
}

func TestLogNotifier(t *testing.T) {
	n := LogNotifier{}
	if err := n.Notify(context.Background(), Event{ID: uuid.New(), Type: EventConflictDetected}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
