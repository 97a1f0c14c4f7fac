package addon

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/domain/cases"
)

// Policy governs when scheduled cases may be displaced for an add-on.
type Policy struct {
	// MaxBumpsPerDay caps how many committed bumps one room may absorb
	// in a single day.
	MaxBumpsPerDay int
	// ProtectedPriorities can never be bumped.
	ProtectedPriorities []cases.Priority
	// BumpableStatuses limits which case states may be displaced. Empty
	// means any state before the patient enters the room.
	BumpableStatuses []cases.Status
	// ApprovalRequired routes every bump through an explicit
	// approve/reject decision instead of committing immediately.
	ApprovalRequired bool
}

// DefaultPolicy returns the standard bump policy: electives are fair
// game once a day, anything urgent or above is protected, bumps commit
// without approval.
func DefaultPolicy() Policy {
	return Policy{
		MaxBumpsPerDay:      1,
		ProtectedPriorities: []cases.Priority{cases.PriorityUrgent, cases.PriorityEmergent},
	}
}

// Protects reports whether the policy shields a priority from bumping.
func (p Policy) Protects(priority cases.Priority) bool {
	for _, protected := range p.ProtectedPriorities {
		if protected == priority {
			return true
		}
	}
	return false
}

// StatusBumpable reports whether a case in this status may be displaced
// under the policy. A case that has entered the room is never bumpable.
func (p Policy) StatusBumpable(status cases.Status) bool {
	if !status.Displaceable() {
		return false
	}
	if len(p.BumpableStatuses) == 0 {
		return true
	}
	for _, s := range p.BumpableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// urgentIndications are clinical indication keywords that raise a
// case's claim to immediate OR time beyond its priority class.
var urgentIndications = []string{
	"trauma", "hemorrhage", "rupture", "ischemia", "perforation", "obstruction", "sepsis",
}

// UrgencyScore weighs a case's claim to OR time from its priority class
// and clinical indication. Priority dominates; the indication refines
// ordering within a class.
func UrgencyScore(c *cases.SurgicalCase) float64 {
	score := float64(c.Priority.Rank()) * 40
	indication := strings.ToLower(c.Indication)
	for _, kw := range urgentIndications {
		if strings.Contains(indication, kw) {
			score += 15
			break
		}
	}
	return score
}

// BumpStatus is the lifecycle of a bump record.
type BumpStatus string

const (
	BumpPending   BumpStatus = "pending"
	BumpCommitted BumpStatus = "committed"
	BumpRejected  BumpStatus = "rejected"
	BumpDenied    BumpStatus = "denied"
)

// BumpRecord is the audit trail of one displacement decision: which
// add-on case asked, which cases it displaced, and how it was resolved.
type BumpRecord struct {
	ID            uuid.UUID   `json:"id"`
	AddOnCaseID   uuid.UUID   `json:"addon_case_id"`
	VictimCaseIDs []uuid.UUID `json:"victim_case_ids"`
	RoomID        uuid.UUID   `json:"room_id"`
	Start         time.Time   `json:"start"`
	End           time.Time   `json:"end"`
	Status        BumpStatus  `json:"status"`
	UrgencyScore  float64     `json:"urgency_score"`
	Reason        string      `json:"reason,omitempty"`
	RequestedBy   string      `json:"requested_by"`
	DecidedBy     string      `json:"decided_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	DecidedAt     *time.Time  `json:"decided_at,omitempty"`
}

// AdmissionResult reports how an add-on was admitted.
type AdmissionResult struct {
	Case *cases.SurgicalCase `json:"case"`
	// OpenCapacity is true when the add-on fit without displacing
	// anyone.
	OpenCapacity bool        `json:"open_capacity"`
	UrgencyScore float64     `json:"urgency_score"`
	Bump         *BumpRecord `json:"bump,omitempty"`
}
