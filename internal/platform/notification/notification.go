package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType identifies a scheduling event that downstream consumers may
// care about.
type EventType string

const (
	EventCaseScheduled     EventType = "case.scheduled"
	EventCaseBumped        EventType = "case.bumped"
	EventCaseDelayed       EventType = "case.delayed"
	EventCaseCancelled     EventType = "case.cancelled"
	EventConflictDetected  EventType = "conflict.detected"
	EventBumpApprovalAsked EventType = "bump.approval_requested"
)

// Event is a scheduling notification payload.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       EventType              `json:"type"`
	CaseID     uuid.UUID              `json:"case_id,omitempty"`
	RoomID     uuid.UUID              `json:"room_id,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Notifier delivers scheduling events to an external channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans events out to registered notifiers asynchronously.
// Delivery is best-effort: a full queue drops the event with a log line
// rather than blocking the scheduling path.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan Event
	done      chan struct{}
}

// NewDispatcher creates a dispatcher with the given queue capacity and
// starts its delivery loop.
func NewDispatcher(capacity int, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Event, capacity),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues an event for delivery. It never blocks.
func (d *Dispatcher) Publish(event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	select {
	case d.queue <- event:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("case_id", event.CaseID.String()).
			Msg("notification queue full, event dropped")
	}
}

// Close stops the delivery loop after draining queued events.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, n := range d.notifiers {
			if err := n.Notify(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("notification delivery failed")
			}
		}
		cancel()
	}
}

// LogNotifier writes events to the structured log. Useful as the default
// sink in development and as an audit trail in production.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("case_id", event.CaseID.String()).
		Strs("recipients", event.Recipients).
		Msg("scheduling event")
	return nil
}
