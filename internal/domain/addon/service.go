package addon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/domain/schedule"
	"github.com/orsched/orsched/internal/platform/notification"
	"github.com/orsched/orsched/internal/platform/timeline"
)

// ErrValidation marks add-on requests that fail validation.
var ErrValidation = errors.New("validation failed")

// Denial reason codes.
const (
	ReasonNoDisplaceableCapacity = "NO_DISPLACEABLE_CAPACITY"
	ReasonNotAnAddOn             = "NOT_AN_ADD_ON"
)

// DeniedError reports that an add-on could not be admitted.
type DeniedError struct {
	Reason string
	Detail string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("add-on denied: %s (%s)", e.Reason, e.Detail)
}

// Controller admits same-day add-on cases: into open capacity when any
// exists, otherwise by displacing lower-priority scheduled cases under
// the bump policy.
type Controller struct {
	cases     *cases.Service
	registry  *registry.Service
	scheduler *schedule.Service
	detector  *schedule.Detector
	engine    *timeline.Engine
	events    *notification.Dispatcher
	bumps     BumpRepository
	policy    Policy
}

// NewController creates an add-on admission controller.
func NewController(caseSvc *cases.Service, reg *registry.Service, scheduler *schedule.Service,
	detector *schedule.Detector, engine *timeline.Engine, events *notification.Dispatcher,
	bumps BumpRepository, policy Policy) *Controller {
	return &Controller{
		cases:     caseSvc,
		registry:  reg,
		scheduler: scheduler,
		detector:  detector,
		engine:    engine,
		events:    events,
		bumps:     bumps,
		policy:    policy,
	}
}

// Admit places an add-on case on the given day. Open capacity wins;
// failing that the controller searches for the smallest set of bumpable
// victims whose displacement frees a fitting window.
func (c *Controller) Admit(ctx context.Context, caseID uuid.UUID, date time.Time, actor string) (*AdmissionResult, error) {
	sc, err := c.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if sc.Priority != cases.PriorityUrgent && sc.Priority != cases.PriorityEmergent {
		return nil, &DeniedError{
			Reason: ReasonNotAnAddOn,
			Detail: fmt.Sprintf("priority %s does not qualify for add-on admission", sc.Priority),
		}
	}

	urgency := UrgencyScore(sc)

	// First choice: open capacity, no one displaced. A conflict-blocked
	// day counts as full too: the bump protocol may free the window a
	// clean placement could not find.
	result, err := c.scheduler.ScheduleCase(ctx, caseID, schedule.ScheduleRequest{Date: date, Actor: actor})
	if err == nil {
		return &AdmissionResult{Case: result.Case, OpenCapacity: true, UrgencyScore: urgency}, nil
	}
	var conflictErr *schedule.ConflictError
	if !errors.Is(err, schedule.ErrNoCapacity) && !errors.As(err, &conflictErr) {
		return nil, err
	}

	plan, err := c.findBumpPlan(ctx, sc, date)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		record := &BumpRecord{
			AddOnCaseID:  caseID,
			Status:       BumpDenied,
			UrgencyScore: urgency,
			Reason:       ReasonNoDisplaceableCapacity,
			RequestedBy:  actor,
		}
		if err := c.bumps.Create(ctx, record); err != nil {
			return nil, err
		}
		return nil, &DeniedError{
			Reason: ReasonNoDisplaceableCapacity,
			Detail: "no open window and no bumpable case frees one",
		}
	}

	record := &BumpRecord{
		AddOnCaseID:   caseID,
		VictimCaseIDs: plan.victimIDs(),
		RoomID:        plan.roomID,
		Start:         plan.start,
		End:           plan.end,
		UrgencyScore:  urgency,
		RequestedBy:   actor,
	}

	if c.policy.ApprovalRequired {
		record.Status = BumpPending
		if err := c.bumps.Create(ctx, record); err != nil {
			return nil, err
		}
		c.events.Publish(notification.Event{
			Type:   notification.EventBumpApprovalAsked,
			CaseID: caseID,
			RoomID: plan.roomID,
			Detail: map[string]interface{}{"bump_id": record.ID.String(), "victims": len(plan.victims)},
		})
		return &AdmissionResult{Case: sc, Bump: record, UrgencyScore: urgency}, nil
	}

	// The record is staged first so the exchange never outruns its
	// audit trail, and flipped to committed only once the swap holds.
	record.Status = BumpPending
	if err := c.bumps.Create(ctx, record); err != nil {
		return nil, err
	}
	updated, err := c.commitBump(ctx, sc, plan, record, actor)
	if err != nil {
		record.Status = BumpDenied
		record.Reason = "bump commit failed"
		if uerr := c.bumps.Update(ctx, record); uerr != nil {
			log.Error().Err(uerr).Str("bump_id", record.ID.String()).Msg("failed to roll back bump record")
		}
		return nil, err
	}
	if err := c.markCommitted(ctx, record, actor); err != nil {
		return nil, err
	}
	return &AdmissionResult{Case: updated, Bump: record, UrgencyScore: urgency}, nil
}

func (c *Controller) markCommitted(ctx context.Context, record *BumpRecord, actor string) error {
	now := time.Now()
	record.Status = BumpCommitted
	record.DecidedBy = actor
	record.DecidedAt = &now
	return c.bumps.Update(ctx, record)
}

// bumpPlan is a chosen displacement: the victims to remove and where the
// add-on lands.
type bumpPlan struct {
	roomID  uuid.UUID
	victims []*cases.SurgicalCase
	start   time.Time
	end     time.Time
}

func (p *bumpPlan) victimIDs() []uuid.UUID {
	out := make([]uuid.UUID, len(p.victims))
	for i, v := range p.victims {
		out[i] = v.ID
	}
	return out
}

// findBumpPlan searches for the minimal victim set: single victims
// first, then adjacent pairs in the same room. Rooms that already
// absorbed their daily bump allowance are off the table. Candidates are
// ranked so the least disruptive plan wins: fewest victims, least
// urgent victims, latest start, shortest patient notice already given.
func (c *Controller) findBumpPlan(ctx context.Context, sc *cases.SurgicalCase, date time.Time) (*bumpPlan, error) {
	duration := time.Duration(sc.EstimatedMinutes) * time.Minute
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	scheduled, _, err := c.cases.ListCases(ctx, cases.ListFilter{
		Date:  &date,
		Limit: 1000,
	})
	if err != nil {
		return nil, err
	}

	// Group bumpable victims by room, ordered by start.
	byRoom := make(map[uuid.UUID][]*cases.SurgicalCase)
	for _, victim := range scheduled {
		if !victim.Placed() {
			continue
		}
		if c.bumpable(sc, victim) {
			byRoom[*victim.RoomID] = append(byRoom[*victim.RoomID], victim)
		}
	}

	var plans []*bumpPlan
	for roomID, victims := range byRoom {
		room, err := c.registry.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room.Status != registry.RoomAvailable || !room.Supports(sc.RequiredAttributes) {
			continue
		}
		committed, err := c.bumps.CountCommittedForRoom(ctx, roomID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		if committed >= c.policy.MaxBumpsPerDay {
			continue
		}
		sort.Slice(victims, func(i, j int) bool {
			return victims[i].ScheduledStart.Before(*victims[j].ScheduledStart)
		})

		for i := range victims {
			if plan, err := c.tryVictimSet(ctx, sc, roomID, victims[i:i+1], duration); err != nil {
				return nil, err
			} else if plan != nil {
				plans = append(plans, plan)
			}
		}
		for i := 0; i+1 < len(victims); i++ {
			if plan, err := c.tryVictimSet(ctx, sc, roomID, victims[i:i+2], duration); err != nil {
				return nil, err
			} else if plan != nil {
				plans = append(plans, plan)
			}
		}
	}

	if len(plans) == 0 {
		return nil, nil
	}

	sort.Slice(plans, func(i, j int) bool {
		if len(plans[i].victims) != len(plans[j].victims) {
			return len(plans[i].victims) < len(plans[j].victims)
		}
		if ui, uj := maxUrgency(plans[i].victims), maxUrgency(plans[j].victims); ui != uj {
			return ui < uj
		}
		if !plans[i].start.Equal(plans[j].start) {
			return plans[i].start.After(plans[j].start)
		}
		// The victim booked most recently has been given the least
		// notice, so displacing them disrupts the least.
		return latestBooked(plans[i].victims).After(latestBooked(plans[j].victims))
	})
	return plans[0], nil
}

func maxUrgency(victims []*cases.SurgicalCase) float64 {
	score := 0.0
	for _, v := range victims {
		if s := UrgencyScore(v); s > score {
			score = s
		}
	}
	return score
}

func latestBooked(victims []*cases.SurgicalCase) time.Time {
	var t time.Time
	for _, v := range victims {
		if v.CreatedAt.After(t) {
			t = v.CreatedAt
		}
	}
	return t
}

// bumpable applies the policy gates to one potential victim.
func (c *Controller) bumpable(addOn, victim *cases.SurgicalCase) bool {
	if !c.policy.StatusBumpable(victim.Status) {
		return false
	}
	if c.policy.Protects(victim.Priority) {
		return false
	}
	return victim.Priority.Rank() < addOn.Priority.Rank()
}

// tryVictimSet checks whether removing the victims frees a window the
// add-on fits, with every other scheduling rule still satisfied.
func (c *Controller) tryVictimSet(ctx context.Context, sc *cases.SurgicalCase, roomID uuid.UUID,
	victims []*cases.SurgicalCase, duration time.Duration) (*bumpPlan, error) {

	start := *victims[0].ScheduledStart
	end := start.Add(duration)

	ignore := make(map[uuid.UUID]struct{}, len(victims))
	for _, v := range victims {
		ignore[v.ID] = struct{}{}
	}

	placement := schedule.Placement{CaseID: sc.ID, RoomID: roomID, Start: start, End: end}
	conflicts, err := c.detector.Check(ctx, sc, placement, schedule.CheckOptions{IgnoreCaseIDs: ignore})
	if err != nil {
		return nil, err
	}
	if schedule.Blocking(conflicts) {
		return nil, nil
	}
	return &bumpPlan{roomID: roomID, victims: victims, start: start, end: end}, nil
}

// commitBump atomically swaps the victims out of the room timeline for
// the add-on, then walks the case state changes.
func (c *Controller) commitBump(ctx context.Context, sc *cases.SurgicalCase, plan *bumpPlan,
	record *BumpRecord, actor string) (*cases.SurgicalCase, error) {

	// Every victim must still be displaceable before the timeline moves;
	// a patient who entered the room since the plan was drawn voids it.
	for _, victim := range plan.victims {
		if !cases.CanTransition(victim.Status, cases.StatusBumped) {
			return nil, fmt.Errorf("case %s is %s and can no longer be bumped: %w",
				victim.ID, victim.Status, ErrValidation)
		}
	}

	incoming := timeline.Reservation{
		CaseID:   sc.ID,
		Interval: timeline.Interval{Start: plan.start, End: plan.end},
	}
	if _, err := c.engine.Exchange(plan.roomID, plan.victimIDs(), incoming); err != nil {
		return nil, fmt.Errorf("bump exchange failed: %w", err)
	}

	var firstErr error
	for _, victim := range plan.victims {
		if _, err := c.cases.MarkBumped(ctx, victim.ID,
			fmt.Sprintf("displaced by %s add-on %s", sc.Priority, sc.ID), actor); err != nil {
			log.Error().Err(err).Str("case_id", victim.ID.String()).Msg("failed to mark victim bumped")
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := c.cases.Unplace(ctx, victim.ID); err != nil {
			log.Error().Err(err).Str("case_id", victim.ID.String()).Msg("failed to unplace victim")
			if firstErr == nil {
				firstErr = err
			}
		}
		c.events.Publish(notification.Event{
			Type:   notification.EventCaseBumped,
			CaseID: victim.ID,
			RoomID: plan.roomID,
			Detail: map[string]interface{}{
				"addon_case_id": sc.ID.String(),
				"bump_id":       record.ID.String(),
			},
		})
	}

	if firstErr != nil {
		return nil, firstErr
	}

	updated, err := c.cases.MarkScheduled(ctx, sc.ID, plan.roomID, plan.start, plan.end, actor)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("addon_case_id", sc.ID.String()).
		Str("room_id", plan.roomID.String()).
		Int("victims", len(plan.victims)).
		Msg("add-on admitted by bump")
	return updated, nil
}

// Approve commits a pending bump.
func (c *Controller) Approve(ctx context.Context, bumpID uuid.UUID, actor string) (*AdmissionResult, error) {
	record, err := c.bumps.GetByID(ctx, bumpID)
	if err != nil {
		return nil, err
	}
	if record.Status != BumpPending {
		return nil, fmt.Errorf("bump %s is %s, not pending: %w", bumpID, record.Status, ErrValidation)
	}

	sc, err := c.cases.GetCase(ctx, record.AddOnCaseID)
	if err != nil {
		return nil, err
	}

	var victims []*cases.SurgicalCase
	for _, id := range record.VictimCaseIDs {
		v, err := c.cases.GetCase(ctx, id)
		if err != nil {
			return nil, err
		}
		victims = append(victims, v)
	}

	plan := &bumpPlan{roomID: record.RoomID, victims: victims, start: record.Start, end: record.End}

	// Commit the swap before touching the record: a failed exchange
	// leaves the bump pending, never falsely committed.
	updated, err := c.commitBump(ctx, sc, plan, record, actor)
	if err != nil {
		return nil, err
	}
	if err := c.markCommitted(ctx, record, actor); err != nil {
		return nil, err
	}
	return &AdmissionResult{Case: updated, Bump: record, UrgencyScore: record.UrgencyScore}, nil
}

// Reject declines a pending bump, leaving the schedule untouched.
func (c *Controller) Reject(ctx context.Context, bumpID uuid.UUID, reason, actor string) (*BumpRecord, error) {
	record, err := c.bumps.GetByID(ctx, bumpID)
	if err != nil {
		return nil, err
	}
	if record.Status != BumpPending {
		return nil, fmt.Errorf("bump %s is %s, not pending: %w", bumpID, record.Status, ErrValidation)
	}
	now := time.Now()
	record.Status = BumpRejected
	record.Reason = reason
	record.DecidedBy = actor
	record.DecidedAt = &now
	if err := c.bumps.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// PendingBumps lists bumps awaiting a decision.
func (c *Controller) PendingBumps(ctx context.Context) ([]*BumpRecord, error) {
	return c.bumps.ListPending(ctx)
}

// GetBump fetches one bump record.
func (c *Controller) GetBump(ctx context.Context, id uuid.UUID) (*BumpRecord, error) {
	return c.bumps.GetByID(ctx, id)
}
