package utilization

import (
	"time"

	"github.com/google/uuid"
)

// TurnoverInstance is one measured room turnover: the gap between a
// case's procedure end and the next patient entering the same room.
type TurnoverInstance struct {
	ID         uuid.UUID `json:"id"`
	RoomID     uuid.UUID `json:"room_id"`
	FromCaseID uuid.UUID `json:"from_case_id"`
	ToCaseID   uuid.UUID `json:"to_case_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Minutes    float64   `json:"minutes"`
}

// TurnoverSummary aggregates a room's turnovers over a window.
type TurnoverSummary struct {
	RoomID         uuid.UUID           `json:"room_id"`
	Date           string              `json:"date"`
	Instances      []*TurnoverInstance `json:"instances"`
	AverageMinutes float64             `json:"average_minutes"`
	TargetMinutes  int                 `json:"target_minutes"`
	// ComplianceRate is the share of turnovers at or under target.
	ComplianceRate float64 `json:"compliance_rate"`
}

// RoomUtilization is the fraction of a room's staffed day consumed by
// reservations, always in [0,1].
type RoomUtilization struct {
	RoomID         uuid.UUID `json:"room_id"`
	Date           string    `json:"date"`
	StaffedMinutes int       `json:"staffed_minutes"`
	BookedMinutes  int       `json:"booked_minutes"`
	Utilization    float64   `json:"utilization"`
}

// BlockUtilization is the fraction of one block window consumed by the
// owner's booked time on a date.
type BlockUtilization struct {
	BlockID       uuid.UUID `json:"block_id"`
	RoomID        uuid.UUID `json:"room_id"`
	Date          string    `json:"date"`
	BlockMinutes  int       `json:"block_minutes"`
	BookedMinutes int       `json:"booked_minutes"`
	Utilization   float64   `json:"utilization"`
	Target        float64   `json:"target"`
	MeetsTarget   bool      `json:"meets_target"`
}
