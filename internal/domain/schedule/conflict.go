package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/platform/timeline"
)

// ConflictType classifies what a proposed placement collides with.
type ConflictType string

const (
	ConflictRoomUnavailable  ConflictType = "room_unavailable"
	ConflictRoomIncompatible ConflictType = "room_incompatible"
	ConflictOutsideHours     ConflictType = "outside_room_hours"
	ConflictRoomOverlap      ConflictType = "room_overlap"
	ConflictTurnover         ConflictType = "turnover_violation"
	ConflictStaffOverlap     ConflictType = "staff_overlap"
	ConflictEquipment        ConflictType = "equipment_unavailable"
	ConflictBlockOwnership   ConflictType = "block_ownership"
	ConflictBlockPreference  ConflictType = "block_preference"
)

// Severity splits conflicts into those that forbid a placement and
// those that merely warn.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityWarning  Severity = "warning"
)

// Conflict is one detected collision for a proposed placement.
type Conflict struct {
	Type        ConflictType `json:"type"`
	Severity    Severity     `json:"severity"`
	CaseID      uuid.UUID    `json:"case_id"`
	OtherCaseID uuid.UUID    `json:"other_case_id,omitempty"`
	RoomID      uuid.UUID    `json:"room_id,omitempty"`
	ResourceID  uuid.UUID    `json:"resource_id,omitempty"`
	Message     string       `json:"message"`
}

// Blocking reports whether any conflict in the set forbids the placement.
func Blocking(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Placement is a proposed room and time for a case.
type Placement struct {
	CaseID uuid.UUID `json:"case_id"`
	RoomID uuid.UUID `json:"room_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

func (p Placement) interval() timeline.Interval {
	return timeline.Interval{Start: p.Start, End: p.End}
}

// Detector evaluates a proposed placement against every scheduling rule.
// It always runs the full rule set so callers see everything wrong with
// a placement at once, not just the first failure.
type Detector struct {
	registry *registry.Service
	cases    *cases.Service
	engine   *timeline.Engine

	defaultTurnoverMinutes int
}

// NewDetector creates a conflict detector.
func NewDetector(reg *registry.Service, caseSvc *cases.Service, engine *timeline.Engine,
	defaultTurnoverMinutes int) *Detector {
	return &Detector{
		registry:               reg,
		cases:                  caseSvc,
		engine:                 engine,
		defaultTurnoverMinutes: defaultTurnoverMinutes,
	}
}

// CheckOptions tunes a detection pass.
type CheckOptions struct {
	// IgnoreCaseIDs are treated as absent from the schedule, used when
	// evaluating a bump that would displace them.
	IgnoreCaseIDs map[uuid.UUID]struct{}
	// Now anchors block-release evaluation; zero means time.Now().
	Now time.Time
}

// Check runs every rule against the placement and returns all conflicts
// found. A nil slice means the placement is clean.
func (d *Detector) Check(ctx context.Context, sc *cases.SurgicalCase, p Placement, opts CheckOptions) ([]Conflict, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	var conflicts []Conflict

	room, err := d.registry.GetRoom(ctx, p.RoomID)
	if err != nil {
		return nil, err
	}

	conflicts = append(conflicts, d.checkRoom(sc, room, p)...)

	roomConflicts, err := d.checkRoomTimeline(sc, room, p, opts)
	if err != nil {
		return nil, err
	}
	conflicts = append(conflicts, roomConflicts...)

	dayCases, err := d.scheduledCasesOn(ctx, p.Start)
	if err != nil {
		return nil, err
	}

	conflicts = append(conflicts, d.checkStaff(sc, p, dayCases, opts)...)

	equipConflicts, err := d.checkEquipment(ctx, sc, p, dayCases, opts)
	if err != nil {
		return nil, err
	}
	conflicts = append(conflicts, equipConflicts...)

	blockConflicts, err := d.checkBlocks(ctx, sc, p, opts)
	if err != nil {
		return nil, err
	}
	conflicts = append(conflicts, blockConflicts...)

	return conflicts, nil
}

func (d *Detector) checkRoom(sc *cases.SurgicalCase, room *registry.Room, p Placement) []Conflict {
	var conflicts []Conflict

	if room.Status != registry.RoomAvailable {
		conflicts = append(conflicts, Conflict{
			Type:     ConflictRoomUnavailable,
			Severity: SeverityBlocking,
			CaseID:   sc.ID,
			RoomID:   room.ID,
			Message:  fmt.Sprintf("room %s is %s", room.Name, room.Status),
		})
	}

	if !room.Supports(sc.RequiredAttributes) {
		conflicts = append(conflicts, Conflict{
			Type:     ConflictRoomIncompatible,
			Severity: SeverityBlocking,
			CaseID:   sc.ID,
			RoomID:   room.ID,
			Message:  fmt.Sprintf("room %s lacks required attributes %v", room.Name, sc.RequiredAttributes),
		})
	}

	open, closeAt := room.DayBounds(p.Start)
	if p.Start.Before(open) || p.End.After(closeAt) {
		conflicts = append(conflicts, Conflict{
			Type:     ConflictOutsideHours,
			Severity: SeverityBlocking,
			CaseID:   sc.ID,
			RoomID:   room.ID,
			Message: fmt.Sprintf("placement %s-%s falls outside room hours %s-%s",
				p.Start.Format("15:04"), p.End.Format("15:04"),
				open.Format("15:04"), closeAt.Format("15:04")),
		})
	}

	return conflicts
}

// checkRoomTimeline finds overlaps and turnover shortfalls against the
// room's existing reservations. The turnover floor applies on both sides
// of the placement: the room needs cleaning time after the previous case
// and before the next.
func (d *Detector) checkRoomTimeline(sc *cases.SurgicalCase, room *registry.Room, p Placement, opts CheckOptions) ([]Conflict, error) {
	reservations, _, err := d.engine.Snapshot(p.RoomID)
	if err != nil {
		return nil, err
	}

	turnover := time.Duration(room.TurnoverMinutes) * time.Minute
	if room.TurnoverMinutes == 0 {
		turnover = time.Duration(d.defaultTurnoverMinutes) * time.Minute
	}

	var conflicts []Conflict
	for _, r := range reservations {
		if r.CaseID == sc.ID {
			continue
		}
		if _, ignore := opts.IgnoreCaseIDs[r.CaseID]; ignore {
			continue
		}

		if r.Interval.Overlaps(p.interval()) {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictRoomOverlap,
				Severity:    SeverityBlocking,
				CaseID:      sc.ID,
				OtherCaseID: r.CaseID,
				RoomID:      p.RoomID,
				Message: fmt.Sprintf("overlaps case %s (%s-%s)",
					r.CaseID, r.Start.Format("15:04"), r.End.Format("15:04")),
			})
			continue
		}

		// Adjacent but too close for turnover.
		var gap time.Duration
		if !r.End.After(p.Start) {
			gap = p.Start.Sub(r.End)
		} else {
			gap = r.Start.Sub(p.End)
		}
		if gap < turnover {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictTurnover,
				Severity:    SeverityBlocking,
				CaseID:      sc.ID,
				OtherCaseID: r.CaseID,
				RoomID:      p.RoomID,
				Message: fmt.Sprintf("only %s between cases, room needs %s turnover",
					gap, turnover),
			})
		}
	}
	return conflicts, nil
}

// checkStaff enforces staff exclusivity: the surgeon and every listed
// team member can be in one room at a time.
func (d *Detector) checkStaff(sc *cases.SurgicalCase, p Placement, dayCases []*cases.SurgicalCase, opts CheckOptions) []Conflict {
	required := make(map[uuid.UUID]struct{}, len(sc.StaffIDs)+1)
	required[sc.SurgeonID] = struct{}{}
	for _, id := range sc.StaffIDs {
		required[id] = struct{}{}
	}

	var conflicts []Conflict
	for _, other := range dayCases {
		if other.ID == sc.ID || !other.Placed() {
			continue
		}
		if _, ignore := opts.IgnoreCaseIDs[other.ID]; ignore {
			continue
		}
		otherIv := timeline.Interval{Start: *other.ScheduledStart, End: *other.ScheduledEnd}
		if !otherIv.Overlaps(p.interval()) {
			continue
		}

		otherStaff := append([]uuid.UUID{other.SurgeonID}, other.StaffIDs...)
		for _, id := range otherStaff {
			if _, needed := required[id]; needed {
				conflicts = append(conflicts, Conflict{
					Type:        ConflictStaffOverlap,
					Severity:    SeverityBlocking,
					CaseID:      sc.ID,
					OtherCaseID: other.ID,
					ResourceID:  id,
					Message:     fmt.Sprintf("staff %s already committed to case %s", id, other.ID),
				})
			}
		}
	}
	return conflicts
}

// checkEquipment enforces equipment capacity: exclusive items serve one
// case at a time; shareable items serve up to their quantity in
// concurrent cases.
func (d *Detector) checkEquipment(ctx context.Context, sc *cases.SurgicalCase, p Placement,
	dayCases []*cases.SurgicalCase, opts CheckOptions) ([]Conflict, error) {

	var conflicts []Conflict
	for _, eqID := range sc.EquipmentIDs {
		eq, err := d.registry.GetEquipment(ctx, eqID)
		if err != nil {
			return nil, err
		}

		concurrent := 0
		var lastHolder uuid.UUID
		for _, other := range dayCases {
			if other.ID == sc.ID || !other.Placed() {
				continue
			}
			if _, ignore := opts.IgnoreCaseIDs[other.ID]; ignore {
				continue
			}
			otherIv := timeline.Interval{Start: *other.ScheduledStart, End: *other.ScheduledEnd}
			if !otherIv.Overlaps(p.interval()) {
				continue
			}
			for _, otherEq := range other.EquipmentIDs {
				if otherEq == eqID {
					concurrent++
					lastHolder = other.ID
				}
			}
		}

		capacity := 1
		if eq.Shareable {
			capacity = eq.Quantity
		}
		if concurrent+1 > capacity {
			conflicts = append(conflicts, Conflict{
				Type:        ConflictEquipment,
				Severity:    SeverityBlocking,
				CaseID:      sc.ID,
				OtherCaseID: lastHolder,
				ResourceID:  eqID,
				Message: fmt.Sprintf("equipment %s at capacity (%d of %d in use)",
					eq.Name, concurrent, capacity),
			})
		}
	}
	return conflicts, nil
}

// checkBlocks enforces block ownership. A block protects its window for
// the owning service line or surgeon until the release lead passes, at
// which point the unused time opens to everyone. Placing an elective
// case outside its own service's block draws a warning, not a block.
func (d *Detector) checkBlocks(ctx context.Context, sc *cases.SurgicalCase, p Placement, opts CheckOptions) ([]Conflict, error) {
	blocks, err := d.registry.ListBlocksForDate(ctx, p.Start)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	inOwnBlock := false
	for _, b := range blocks {
		if b.RoomID != p.RoomID {
			continue
		}
		start, end := b.Window(p.Start)
		blockIv := timeline.Interval{Start: start, End: end}
		if !blockIv.Overlaps(p.interval()) {
			continue
		}

		if d.ownsBlock(sc, b) {
			inOwnBlock = true
			continue
		}
		// A block that admits add-ons does not shield its window from
		// urgent or emergent cases.
		if b.AllowAddOns && (sc.Priority == cases.PriorityUrgent || sc.Priority == cases.PriorityEmergent) {
			continue
		}
		if b.ReleasedBy(opts.Now, p.Start) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Type:       ConflictBlockOwnership,
			Severity:   SeverityBlocking,
			CaseID:     sc.ID,
			RoomID:     p.RoomID,
			ResourceID: b.ID,
			Message: fmt.Sprintf("window belongs to %s block until released (%dh lead)",
				blockOwner(b), b.ReleaseLeadHours),
		})
	}

	// Elective case placed in open time while its own service holds
	// block time elsewhere that day: allowed, but worth flagging.
	if !inOwnBlock && sc.Priority == cases.PriorityElective {
		for _, b := range blocks {
			if b.RoomID == p.RoomID || !d.ownsBlock(sc, b) {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type:       ConflictBlockPreference,
				Severity:   SeverityWarning,
				CaseID:     sc.ID,
				RoomID:     b.RoomID,
				ResourceID: b.ID,
				Message:    fmt.Sprintf("%s holds block time in another room this day", blockOwner(b)),
			})
			break
		}
	}

	return conflicts, nil
}

func (d *Detector) ownsBlock(sc *cases.SurgicalCase, b *registry.Block) bool {
	if b.SurgeonID != nil && *b.SurgeonID == sc.SurgeonID {
		return true
	}
	return b.ServiceLine != "" && b.ServiceLine == sc.ServiceLine
}

func blockOwner(b *registry.Block) string {
	if b.SurgeonID != nil {
		return "surgeon " + b.SurgeonID.String()
	}
	return b.ServiceLine
}

func (d *Detector) scheduledCasesOn(ctx context.Context, date time.Time) ([]*cases.SurgicalCase, error) {
	day := date
	list, _, err := d.cases.ListCases(ctx, cases.ListFilter{
		Date:  &day,
		Limit: 1000,
	})
	if err != nil {
		return nil, err
	}
	active := list[:0]
	for _, c := range list {
		if c.Status.Active() && c.Placed() {
			active = append(active, c)
		}
	}
	return active, nil
}
