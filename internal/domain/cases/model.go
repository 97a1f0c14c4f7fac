package cases

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a surgical case. The forward path runs
// scheduled -> confirmed -> pre_op -> ready -> in_room -> anesthesia_start
// -> procedure_start -> procedure_end -> closing -> recovery -> completed;
// cancellation, delay and bumping are only reachable before the patient
// enters the room.
type Status string

const (
	StatusPending         Status = "pending"
	StatusScheduled       Status = "scheduled"
	StatusConfirmed       Status = "confirmed"
	StatusPreOp           Status = "pre_op"
	StatusReady           Status = "ready"
	StatusInRoom          Status = "in_room"
	StatusAnesthesiaStart Status = "anesthesia_start"
	StatusProcedureStart  Status = "procedure_start"
	StatusProcedureEnd    Status = "procedure_end"
	StatusClosing         Status = "closing"
	StatusRecovery        Status = "recovery"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusDelayed         Status = "delayed"
	StatusBumped          Status = "bumped"
)

// transitions is the closed set of legal status moves.
var transitions = map[Status][]Status{
	StatusPending:         {StatusScheduled, StatusCancelled},
	StatusScheduled:       {StatusConfirmed, StatusCancelled, StatusDelayed, StatusBumped},
	StatusConfirmed:       {StatusPreOp, StatusCancelled, StatusDelayed, StatusBumped},
	StatusPreOp:           {StatusReady, StatusCancelled, StatusDelayed, StatusBumped},
	StatusReady:           {StatusInRoom, StatusCancelled, StatusDelayed, StatusBumped},
	StatusDelayed:         {StatusScheduled, StatusCancelled, StatusBumped},
	StatusBumped:          {StatusScheduled, StatusCancelled},
	StatusInRoom:          {StatusAnesthesiaStart},
	StatusAnesthesiaStart: {StatusProcedureStart},
	StatusProcedureStart:  {StatusProcedureEnd},
	StatusProcedureEnd:    {StatusClosing},
	StatusClosing:         {StatusRecovery},
	StatusRecovery:        {StatusCompleted},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

// preInRoom is every status from which a case can still be displaced.
var preInRoom = map[Status]struct{}{
	StatusScheduled: {},
	StatusConfirmed: {},
	StatusPreOp:     {},
	StatusReady:     {},
	StatusDelayed:   {},
}

// Displaceable reports whether a case in this status has not yet entered
// the room and may legally be bumped, delayed or cancelled.
func (s Status) Displaceable() bool {
	_, ok := preInRoom[s]
	return ok
}

// Active reports whether the case still claims its room and team: it is
// on the schedule and has not finished or been displaced.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled, StatusDelayed, StatusBumped:
		return false
	}
	return true
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Priority ranks how quickly a case must reach a room.
type Priority string

const (
	PriorityElective Priority = "elective"
	PriorityUrgent   Priority = "urgent"
	PriorityEmergent Priority = "emergent"
)

// Rank returns a comparable weight; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergent:
		return 3
	case PriorityUrgent:
		return 2
	case PriorityElective:
		return 1
	default:
		return 0
	}
}

// SurgicalCase is one booked procedure for one patient.
type SurgicalCase struct {
	ID                 uuid.UUID   `json:"id"`
	PatientRef         string      `json:"patient_ref"`
	ProcedureCode      string      `json:"procedure_code"`
	SurgeonID          uuid.UUID   `json:"surgeon_id"`
	ServiceLine        string      `json:"service_line"`
	Priority           Priority    `json:"priority"`
	Indication         string      `json:"indication,omitempty"`
	ASAClass           int         `json:"asa_class"`
	AgeYears           int         `json:"age_years,omitempty"`
	BMI                float64     `json:"bmi,omitempty"`
	PriorSurgeries     int         `json:"prior_surgeries,omitempty"`
	Comorbidities      []string    `json:"comorbidities"`
	RequiredAttributes []string    `json:"required_attributes"`
	EquipmentIDs       []uuid.UUID `json:"equipment_ids"`
	StaffIDs           []uuid.UUID `json:"staff_ids"`
	EstimatedMinutes   int         `json:"estimated_minutes"`
	RoomID             *uuid.UUID  `json:"room_id,omitempty"`
	ScheduledStart     *time.Time  `json:"scheduled_start,omitempty"`
	ScheduledEnd       *time.Time  `json:"scheduled_end,omitempty"`
	Status             Status      `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Placed reports whether the case holds a concrete room and time.
func (c *SurgicalCase) Placed() bool {
	return c.RoomID != nil && c.ScheduledStart != nil && c.ScheduledEnd != nil
}

// StatusEvent is one recorded status transition, the audit trail of the
// case lifecycle.
type StatusEvent struct {
	ID         uuid.UUID `json:"id"`
	CaseID     uuid.UUID `json:"case_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
