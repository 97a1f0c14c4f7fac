package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrValidation marks input that fails domain validation.
var ErrValidation = errors.New("validation failed")

// InvalidTransitionError reports an illegal status move.
type InvalidTransitionError struct {
	CaseID uuid.UUID
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("case %s: cannot transition from %s to %s", e.CaseID, e.From, e.To)
}

// TransitionObserver is notified after every committed status change.
// The utilization tracker and the duration-history recorder hang off
// this hook.
type TransitionObserver interface {
	ObserveTransition(ctx context.Context, c *SurgicalCase, event StatusEvent)
}

// Service implements surgical case lifecycle operations.
type Service struct {
	repo      Repository
	observers []TransitionObserver
}

// NewService creates a case service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AddObserver registers a transition observer. Not safe to call after
// the service starts handling requests.
func (s *Service) AddObserver(o TransitionObserver) {
	s.observers = append(s.observers, o)
}

// CreateCase validates and persists a new case in pending state.
func (s *Service) CreateCase(ctx context.Context, c *SurgicalCase) error {
	if c.PatientRef == "" {
		return fmt.Errorf("patient_ref is required: %w", ErrValidation)
	}
	if c.ProcedureCode == "" {
		return fmt.Errorf("procedure_code is required: %w", ErrValidation)
	}
	if c.SurgeonID == uuid.Nil {
		return fmt.Errorf("surgeon_id is required: %w", ErrValidation)
	}
	switch c.Priority {
	case PriorityElective, PriorityUrgent, PriorityEmergent:
	case "":
		c.Priority = PriorityElective
	default:
		return fmt.Errorf("unknown priority %q: %w", c.Priority, ErrValidation)
	}
	if c.ASAClass < 0 || c.ASAClass > 6 {
		return fmt.Errorf("asa_class must be in [0,6]: %w", ErrValidation)
	}
	if c.EstimatedMinutes <= 0 {
		return fmt.Errorf("estimated_minutes must be positive: %w", ErrValidation)
	}

	c.Status = StatusPending
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	log.Info().
		Str("case_id", c.ID.String()).
		Str("procedure", c.ProcedureCode).
		Str("priority", string(c.Priority)).
		Msg("case created")
	return nil
}

// GetCase fetches a case by ID.
func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*SurgicalCase, error) {
	return s.repo.GetByID(ctx, id)
}

// ListCases returns cases matching the filter.
func (s *Service) ListCases(ctx context.Context, filter ListFilter) ([]*SurgicalCase, int, error) {
	return s.repo.List(ctx, filter)
}

// GetHistory returns the full status trail of a case.
func (s *Service) GetHistory(ctx context.Context, caseID uuid.UUID) ([]*StatusEvent, error) {
	if _, err := s.repo.GetByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, caseID)
}

// RecordStatusChange applies an externally requested transition stamped
// with the current time. Transitions into bumped state are reserved for
// the bump protocol and rejected here.
func (s *Service) RecordStatusChange(ctx context.Context, caseID uuid.UUID, to Status, reason, actor string) (*SurgicalCase, error) {
	return s.RecordStatusChangeAt(ctx, caseID, to, reason, actor, time.Time{})
}

// RecordStatusChangeAt applies a transition that happened at a known
// clinical time, such as a wheels-in or incision event reported after
// the fact. A zero time means now.
func (s *Service) RecordStatusChangeAt(ctx context.Context, caseID uuid.UUID, to Status, reason, actor string, at time.Time) (*SurgicalCase, error) {
	if to == StatusBumped {
		c, err := s.repo.GetByID(ctx, caseID)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidTransitionError{CaseID: caseID, From: c.Status, To: to}
	}
	return s.transition(ctx, caseID, to, reason, actor, at)
}

// MarkScheduled places a case in a room at a time and moves it to
// scheduled state. Called by the scheduling optimizer after the timeline
// reservation succeeds.
func (s *Service) MarkScheduled(ctx context.Context, caseID, roomID uuid.UUID, start, end time.Time, actor string) (*SurgicalCase, error) {
	c, err := s.repo.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusScheduled) {
		return nil, &InvalidTransitionError{CaseID: caseID, From: c.Status, To: StatusScheduled}
	}
	c.RoomID = &roomID
	c.ScheduledStart = &start
	c.ScheduledEnd = &end
	return s.commit(ctx, c, StatusScheduled,
		fmt.Sprintf("placed in room %s at %s", roomID, start.Format(time.RFC3339)), actor, time.Time{})
}

// MarkBumped is the bump protocol's entry point for displacing a case.
func (s *Service) MarkBumped(ctx context.Context, caseID uuid.UUID, reason, actor string) (*SurgicalCase, error) {
	return s.transition(ctx, caseID, StatusBumped, reason, actor, time.Time{})
}

// Unplace clears a case's room assignment, used when a hold expires or a
// case is bumped, delayed or cancelled before entering the room.
func (s *Service) Unplace(ctx context.Context, caseID uuid.UUID) error {
	c, err := s.repo.GetByID(ctx, caseID)
	if err != nil {
		return err
	}
	c.RoomID = nil
	c.ScheduledStart = nil
	c.ScheduledEnd = nil
	return s.repo.Update(ctx, c)
}

func (s *Service) transition(ctx context.Context, caseID uuid.UUID, to Status, reason, actor string, at time.Time) (*SurgicalCase, error) {
	c, err := s.repo.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, to) {
		return nil, &InvalidTransitionError{CaseID: caseID, From: c.Status, To: to}
	}
	return s.commit(ctx, c, to, reason, actor, at)
}

func (s *Service) commit(ctx context.Context, c *SurgicalCase, to Status, reason, actor string, at time.Time) (*SurgicalCase, error) {
	if at.IsZero() {
		at = time.Now()
	}
	event := StatusEvent{
		ID:         uuid.New(),
		CaseID:     c.ID,
		From:       c.Status,
		To:         to,
		Reason:     reason,
		Actor:      actor,
		OccurredAt: at,
	}
	c.Status = to
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	if err := s.repo.AppendEvent(ctx, &event); err != nil {
		return nil, err
	}

	log.Info().
		Str("case_id", c.ID.String()).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Str("actor", actor).
		Msg("case status changed")

	for _, o := range s.observers {
		o.ObserveTransition(ctx, c, event)
	}
	return c, nil
}
