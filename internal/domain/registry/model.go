package registry

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus describes whether a room can take cases.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "available"
	RoomMaintenance RoomStatus = "maintenance"
	RoomClosed      RoomStatus = "closed"
)

// Room is an operating room. OpensAt and ClosesAt are minutes from
// midnight in the facility's local day.
type Room struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Attributes      []string   `json:"attributes"`
	TurnoverMinutes int        `json:"turnover_minutes"`
	OpensAt         int        `json:"opens_at"`
	ClosesAt        int        `json:"closes_at"`
	Status          RoomStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Supports reports whether the room carries every requested attribute.
func (r *Room) Supports(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(r.Attributes))
	for _, a := range r.Attributes {
		have[a] = struct{}{}
	}
	for _, want := range required {
		if _, ok := have[want]; !ok {
			return false
		}
	}
	return true
}

// DayBounds returns the room's operating interval on the given date.
func (r *Room) DayBounds(date time.Time) (time.Time, time.Time) {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return midnight.Add(time.Duration(r.OpensAt) * time.Minute),
		midnight.Add(time.Duration(r.ClosesAt) * time.Minute)
}

// Block is a recurring ownership claim on a room: a service line or a
// named surgeon holds the room for a weekday window until the release
// deadline passes.
type Block struct {
	ID                uuid.UUID    `json:"id"`
	RoomID            uuid.UUID    `json:"room_id"`
	ServiceLine       string       `json:"service_line"`
	SurgeonID         *uuid.UUID   `json:"surgeon_id,omitempty"`
	Weekday           time.Weekday `json:"weekday"`
	StartMinute       int          `json:"start_minute"`
	EndMinute         int          `json:"end_minute"`
	ReleaseLeadHours  int          `json:"release_lead_hours"`
	UtilizationTarget float64      `json:"utilization_target"`
	AllowAddOns       bool         `json:"allow_add_ons"`
	EffectiveFrom     time.Time    `json:"effective_from"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// ActiveOn reports whether the block applies on the given date.
func (b *Block) ActiveOn(date time.Time) bool {
	if date.Weekday() != b.Weekday {
		return false
	}
	if date.Before(b.EffectiveFrom) {
		return false
	}
	if b.ExpiresAt != nil && !date.Before(*b.ExpiresAt) {
		return false
	}
	return true
}

// Window returns the block's concrete interval on a date.
func (b *Block) Window(date time.Time) (time.Time, time.Time) {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return midnight.Add(time.Duration(b.StartMinute) * time.Minute),
		midnight.Add(time.Duration(b.EndMinute) * time.Minute)
}

// ReleasedBy reports whether the block's protection has lapsed as of now
// for cases on the given date: inside the release lead window, unused
// block time opens to any service line.
func (b *Block) ReleasedBy(now, date time.Time) bool {
	start, _ := b.Window(date)
	return now.After(start.Add(-time.Duration(b.ReleaseLeadHours) * time.Hour))
}

// StaffRole distinguishes the personnel types a case can require.
type StaffRole string

const (
	RoleSurgeon          StaffRole = "surgeon"
	RoleAnesthesiologist StaffRole = "anesthesiologist"
	RoleNurse            StaffRole = "nurse"
	RoleTech             StaffRole = "tech"
)

// Staff is a schedulable clinician or technician.
type Staff struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Role        StaffRole `json:"role"`
	Specialties []string  `json:"specialties"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Equipment is a movable resource. Shareable equipment (e.g. a C-arm
// that serves adjacent rooms) can appear in overlapping cases up to its
// quantity; exclusive equipment cannot.
type Equipment struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Shareable bool      `json:"shareable"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
