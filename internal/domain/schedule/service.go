package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/prediction"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/platform/notification"
	"github.com/orsched/orsched/internal/platform/timeline"
)

// ErrConcurrency is returned when repeated placement attempts keep
// losing races against concurrent schedulers.
var ErrConcurrency = errors.New("schedule changed concurrently, retry")

// ErrNoCapacity is returned when no room can take the case on the
// requested day.
var ErrNoCapacity = errors.New("no room has capacity for this case")

// OptimizationSuggestion is a ranked alternative offered when the
// requested placement cannot be granted: either a clean slot elsewhere
// or the least-conflicted candidate found.
type OptimizationSuggestion struct {
	RoomID    uuid.UUID  `json:"room_id"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// ConflictError carries the full conflict set that blocked a placement,
// plus ranked alternatives the caller may take instead.
type ConflictError struct {
	Conflicts   []Conflict
	Suggestions []OptimizationSuggestion
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("placement blocked by %d conflict(s)", len(e.Conflicts))
}

// CapacityError reports a placement aimed at a room that cannot take
// any case: unknown to the registry or out of service.
type CapacityError struct {
	RoomID uuid.UUID
	Reason string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("room %s has no capacity: %s", e.RoomID, e.Reason)
}

// Options are the engine knobs the service needs.
type Options struct {
	RetryLimit             int
	DefaultTurnoverMinutes int
	HoldTTL                time.Duration
}

// Service places cases into rooms: explicit placements on request, and
// list-scheduling when asked to find a slot automatically.
type Service struct {
	registry  *registry.Service
	cases     *cases.Service
	predictor *prediction.Predictor
	detector  *Detector
	engine    *timeline.Engine
	events    *notification.Dispatcher
	opts      Options
}

// NewService creates a scheduling service.
func NewService(reg *registry.Service, caseSvc *cases.Service, predictor *prediction.Predictor,
	detector *Detector, engine *timeline.Engine, events *notification.Dispatcher, opts Options) *Service {
	if opts.RetryLimit < 1 {
		opts.RetryLimit = 3
	}
	return &Service{
		registry:  reg,
		cases:     caseSvc,
		predictor: predictor,
		detector:  detector,
		engine:    engine,
		events:    events,
		opts:      opts,
	}
}

// ScheduleRequest asks for a case placement. With RoomID and Start set
// it is an explicit placement; with only Date set the optimizer picks
// the slot.
type ScheduleRequest struct {
	RoomID *uuid.UUID `json:"room_id,omitempty"`
	Start  *time.Time `json:"start,omitempty"`
	Date   time.Time  `json:"date"`
	Hold   bool       `json:"hold"`
	Actor  string     `json:"-"`
}

// ScheduleResult reports where a case landed and any non-blocking
// conflicts that were accepted.
type ScheduleResult struct {
	Case     *cases.SurgicalCase `json:"case"`
	Warnings []Conflict          `json:"warnings,omitempty"`
}

// ScheduleCase places a case. Explicit placements are validated and
// reserved; automatic placements walk ranked candidates. Either path
// retries a bounded number of times when the timeline moves underneath
// it.
func (s *Service) ScheduleCase(ctx context.Context, caseID uuid.UUID, req ScheduleRequest) (*ScheduleResult, error) {
	sc, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !cases.CanTransition(sc.Status, cases.StatusScheduled) {
		return nil, &cases.InvalidTransitionError{CaseID: caseID, From: sc.Status, To: cases.StatusScheduled}
	}

	duration := s.predictedDuration(ctx, sc)

	var lastErr error
	for attempt := 0; attempt < s.opts.RetryLimit; attempt++ {
		var result *ScheduleResult
		var err error
		if req.RoomID != nil && req.Start != nil {
			result, err = s.placeExplicit(ctx, sc, *req.RoomID, *req.Start, duration, req)
		} else {
			result, err = s.placeAuto(ctx, sc, req.Date, duration, req)
		}
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, timeline.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		log.Warn().
			Str("case_id", caseID.String()).
			Int("attempt", attempt+1).
			Msg("placement lost a timeline race, retrying")
	}
	return nil, fmt.Errorf("%w: %v", ErrConcurrency, lastErr)
}

func (s *Service) predictedDuration(ctx context.Context, sc *cases.SurgicalCase) time.Duration {
	pred, err := s.predictor.Predict(ctx, sc.ProcedureCode, sc.SurgeonID, prediction.PatientFactors{
		AgeYears:       sc.AgeYears,
		BMI:            sc.BMI,
		ASAClass:       sc.ASAClass,
		Comorbidities:  sc.Comorbidities,
		PriorSurgeries: sc.PriorSurgeries,
	}, sc.EstimatedMinutes)
	if err != nil {
		log.Warn().Err(err).Str("case_id", sc.ID.String()).Msg("prediction failed, using booking estimate")
		return time.Duration(sc.EstimatedMinutes) * time.Minute
	}
	// Round up to the next 5-minute grid slot.
	minutes := int(pred.ExpectedMinutes)
	if rem := minutes % 5; rem != 0 {
		minutes += 5 - rem
	}
	if minutes <= 0 {
		minutes = sc.EstimatedMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (s *Service) placeExplicit(ctx context.Context, sc *cases.SurgicalCase, roomID uuid.UUID,
	start time.Time, duration time.Duration, req ScheduleRequest) (*ScheduleResult, error) {

	room, err := s.registry.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, &CapacityError{RoomID: roomID, Reason: "room not found"}
		}
		return nil, err
	}
	if room.Status != registry.RoomAvailable {
		return nil, &CapacityError{RoomID: roomID, Reason: fmt.Sprintf("room is %s", room.Status)}
	}

	placement := Placement{CaseID: sc.ID, RoomID: roomID, Start: start, End: start.Add(duration)}

	_, version, err := s.engine.Snapshot(roomID)
	if err != nil {
		if errors.Is(err, timeline.ErrRoomUnknown) {
			return nil, &CapacityError{RoomID: roomID, Reason: "room not tracked"}
		}
		return nil, err
	}

	conflicts, err := s.detector.Check(ctx, sc, placement, CheckOptions{})
	if err != nil {
		return nil, err
	}
	if Blocking(conflicts) {
		return nil, &ConflictError{
			Conflicts:   conflicts,
			Suggestions: s.suggestAlternatives(ctx, sc, start, duration),
		}
	}

	return s.commit(ctx, sc, placement, version, conflicts, req)
}

// candidate is a scored automatic placement option. A candidate with
// blocking conflicts cannot be committed but still ranks as a
// suggestion.
type candidate struct {
	placement Placement
	version   uint64
	conflicts []Conflict
	score     float64
}

func (c candidate) blocked() bool { return Blocking(c.conflicts) }

func (s *Service) placeAuto(ctx context.Context, sc *cases.SurgicalCase, date time.Time,
	duration time.Duration, req ScheduleRequest) (*ScheduleResult, error) {

	if date.IsZero() {
		return nil, fmt.Errorf("date is required for automatic placement")
	}

	feasible, blocked, err := s.collectCandidates(ctx, sc, date, duration)
	if err != nil {
		return nil, err
	}

	if len(feasible) == 0 {
		if len(blocked) == 0 {
			return nil, ErrNoCapacity
		}
		// No clean slot exists, but blocked candidates were found: hand
		// the caller the least-conflicted options instead of failing
		// with nothing.
		suggestions := rankSuggestions(blocked, 3)
		return nil, &ConflictError{
			Conflicts:   suggestions[0].Conflicts,
			Suggestions: suggestions,
		}
	}

	// Highest score first; earlier start breaks ties.
	sort.Slice(feasible, func(i, j int) bool {
		if feasible[i].score != feasible[j].score {
			return feasible[i].score > feasible[j].score
		}
		return feasible[i].placement.Start.Before(feasible[j].placement.Start)
	})

	best := feasible[0]
	return s.commit(ctx, sc, best.placement, best.version, best.conflicts, req)
}

// collectCandidates enumerates candidate placements across all
// compatible rooms on a date, split into committable candidates and
// ones with blocking conflicts.
func (s *Service) collectCandidates(ctx context.Context, sc *cases.SurgicalCase, date time.Time,
	duration time.Duration) (feasible, blocked []candidate, err error) {

	rooms, _, err := s.registry.ListRooms(ctx, 500, 0)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := s.registry.ListBlocksForDate(ctx, date)
	if err != nil {
		return nil, nil, err
	}

	for _, room := range rooms {
		if room.Status != registry.RoomAvailable || !room.Supports(sc.RequiredAttributes) {
			continue
		}
		roomCandidates, err := s.candidatesForRoom(ctx, sc, room, blocks, date, duration)
		if err != nil {
			return nil, nil, err
		}
		for _, c := range roomCandidates {
			if c.blocked() {
				blocked = append(blocked, c)
			} else {
				feasible = append(feasible, c)
			}
		}
	}
	return feasible, blocked, nil
}

// rankSuggestions orders blocked candidates by how close they are to
// feasible: fewest blocking conflicts, then earliest start.
func rankSuggestions(blocked []candidate, limit int) []OptimizationSuggestion {
	sort.Slice(blocked, func(i, j int) bool {
		bi, bj := blockingCount(blocked[i].conflicts), blockingCount(blocked[j].conflicts)
		if bi != bj {
			return bi < bj
		}
		return blocked[i].placement.Start.Before(blocked[j].placement.Start)
	})
	if len(blocked) > limit {
		blocked = blocked[:limit]
	}
	out := make([]OptimizationSuggestion, len(blocked))
	for i, c := range blocked {
		out[i] = OptimizationSuggestion{
			RoomID:    c.placement.RoomID,
			Start:     c.placement.Start,
			End:       c.placement.End,
			Conflicts: c.conflicts,
		}
	}
	return out
}

func blockingCount(conflicts []Conflict) int {
	n := 0
	for _, c := range conflicts {
		if c.Severity == SeverityBlocking {
			n++
		}
	}
	return n
}

// suggestAlternatives finds other slots on the same day for a blocked
// explicit placement: clean slots first, least-conflicted otherwise.
// Best effort; a lookup failure just means no suggestions.
func (s *Service) suggestAlternatives(ctx context.Context, sc *cases.SurgicalCase,
	requested time.Time, duration time.Duration) []OptimizationSuggestion {

	feasible, blocked, err := s.collectCandidates(ctx, sc, requested, duration)
	if err != nil {
		log.Warn().Err(err).Str("case_id", sc.ID.String()).Msg("could not enumerate alternatives")
		return nil
	}
	if len(feasible) > 0 {
		sort.Slice(feasible, func(i, j int) bool {
			if feasible[i].score != feasible[j].score {
				return feasible[i].score > feasible[j].score
			}
			return feasible[i].placement.Start.Before(feasible[j].placement.Start)
		})
		if len(feasible) > 3 {
			feasible = feasible[:3]
		}
		out := make([]OptimizationSuggestion, len(feasible))
		for i, c := range feasible {
			out[i] = OptimizationSuggestion{
				RoomID:    c.placement.RoomID,
				Start:     c.placement.Start,
				End:       c.placement.End,
				Conflicts: c.conflicts,
			}
		}
		return out
	}
	return rankSuggestions(blocked, 3)
}

// candidatesForRoom enumerates feasible starts in a room's free windows
// and scores each. Own-block placements score highest, then lighter-
// loaded rooms, then earlier starts.
func (s *Service) candidatesForRoom(ctx context.Context, sc *cases.SurgicalCase, room *registry.Room,
	blocks []*registry.Block, date time.Time, duration time.Duration) ([]candidate, error) {

	open, closeAt := room.DayBounds(date)
	reservations, version, err := s.engine.Snapshot(room.ID)
	if err != nil {
		return nil, err
	}

	turnover := time.Duration(room.TurnoverMinutes) * time.Minute
	if room.TurnoverMinutes == 0 {
		turnover = time.Duration(s.opts.DefaultTurnoverMinutes) * time.Minute
	}

	// Pad every existing reservation by the turnover so the windows we
	// compute already honor the cleaning gap.
	needed := duration
	windows, err := s.paddedFreeWindows(room.ID, timeline.Interval{Start: open, End: closeAt}, turnover, needed)
	if err != nil {
		return nil, err
	}

	var booked time.Duration
	for _, r := range reservations {
		booked += r.Duration()
	}
	dayLength := closeAt.Sub(open)
	loadFactor := 0.0
	if dayLength > 0 {
		loadFactor = float64(booked) / float64(dayLength)
	}

	var out []candidate
	for _, w := range windows {
		starts := []time.Time{w.Start}
		// An owned block starting inside the window is a better anchor
		// than the window edge.
		for _, b := range blocks {
			if b.RoomID != room.ID || !b.ActiveOn(date) || !s.detector.ownsBlock(sc, b) {
				continue
			}
			bStart, _ := b.Window(date)
			if bStart.After(w.Start) && !bStart.Add(duration).After(w.End) {
				starts = append(starts, bStart)
			}
		}
		for _, start := range starts {
			placement := Placement{CaseID: sc.ID, RoomID: room.ID, Start: start, End: start.Add(duration)}

			conflicts, err := s.detector.Check(ctx, sc, placement, CheckOptions{})
			if err != nil {
				return nil, err
			}

			score := 0.0
			for _, b := range blocks {
				if b.RoomID != room.ID || !b.ActiveOn(date) {
					continue
				}
				bStart, bEnd := b.Window(date)
				inWindow := !placement.Start.Before(bStart) && !placement.End.After(bEnd)
				if inWindow && s.detector.ownsBlock(sc, b) {
					score += 100
				}
			}
			// Prefer evening out load across rooms.
			score += (1 - loadFactor) * 10
			// Earlier in the day is better.
			score -= placement.Start.Sub(open).Hours()

			out = append(out, candidate{placement: placement, version: version, conflicts: conflicts, score: score})
		}
	}
	return out, nil
}

// paddedFreeWindows shrinks each free window by the turnover needed next
// to occupied neighbors.
func (s *Service) paddedFreeWindows(roomID uuid.UUID, bounds timeline.Interval,
	turnover, minDuration time.Duration) ([]timeline.Interval, error) {

	raw, err := s.engine.FreeWindows(roomID, bounds, 0)
	if err != nil {
		return nil, err
	}
	var out []timeline.Interval
	for _, w := range raw {
		start, end := w.Start, w.End
		if start.After(bounds.Start) {
			start = start.Add(turnover)
		}
		if end.Before(bounds.End) {
			end = end.Add(-turnover)
		}
		if end.Sub(start) >= minDuration {
			out = append(out, timeline.Interval{Start: start, End: end})
		}
	}
	return out, nil
}

func (s *Service) commit(ctx context.Context, sc *cases.SurgicalCase, p Placement,
	version uint64, conflicts []Conflict, req ScheduleRequest) (*ScheduleResult, error) {

	res := timeline.Reservation{
		CaseID:   sc.ID,
		Interval: timeline.Interval{Start: p.Start, End: p.End},
		Hold:     req.Hold,
	}
	if _, err := s.engine.ReserveChecked(p.RoomID, res, map[uuid.UUID]uint64{p.RoomID: version}); err != nil {
		var overlap *timeline.OverlapError
		if errors.As(err, &overlap) {
			// Someone took the slot between snapshot and reserve.
			return nil, fmt.Errorf("%w: slot taken", timeline.ErrVersionConflict)
		}
		return nil, err
	}

	updated, err := s.cases.MarkScheduled(ctx, sc.ID, p.RoomID, p.Start, p.End, req.Actor)
	if err != nil {
		// Roll the reservation back so the room does not leak a slot.
		if relErr := s.engine.Release(p.RoomID, sc.ID); relErr != nil {
			log.Error().Err(relErr).Str("case_id", sc.ID.String()).Msg("failed to roll back reservation")
		}
		return nil, err
	}

	var warnings []Conflict
	for _, c := range conflicts {
		if c.Severity == SeverityWarning {
			warnings = append(warnings, c)
		}
	}

	s.events.Publish(notification.Event{
		Type:   notification.EventCaseScheduled,
		CaseID: sc.ID,
		RoomID: p.RoomID,
		Detail: map[string]interface{}{
			"start": p.Start,
			"end":   p.End,
			"hold":  req.Hold,
		},
	})

	log.Info().
		Str("case_id", sc.ID.String()).
		Str("room_id", p.RoomID.String()).
		Time("start", p.Start).
		Bool("hold", req.Hold).
		Msg("case placed")

	return &ScheduleResult{Case: updated, Warnings: warnings}, nil
}

// CheckPlacement evaluates a hypothetical placement and returns every
// conflict without reserving anything.
func (s *Service) CheckPlacement(ctx context.Context, p Placement) ([]Conflict, error) {
	sc, err := s.cases.GetCase(ctx, p.CaseID)
	if err != nil {
		return nil, err
	}
	if p.End.IsZero() || !p.End.After(p.Start) {
		p.End = p.Start.Add(s.predictedDuration(ctx, sc))
	}
	conflicts, err := s.detector.Check(ctx, sc, p, CheckOptions{})
	if err != nil {
		return nil, err
	}
	if Blocking(conflicts) {
		s.events.Publish(notification.Event{
			Type:   notification.EventConflictDetected,
			CaseID: p.CaseID,
			RoomID: p.RoomID,
			Detail: map[string]interface{}{"conflicts": len(conflicts)},
		})
	}
	return conflicts, nil
}

// ConfirmHold converts a held placement into a committed one and moves
// the case to confirmed state.
func (s *Service) ConfirmHold(ctx context.Context, caseID uuid.UUID) error {
	sc, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if sc.RoomID == nil {
		return fmt.Errorf("case %s has no placement: %w", caseID, cases.ErrValidation)
	}
	if err := s.engine.Confirm(*sc.RoomID, caseID); err != nil {
		return err
	}
	_, err = s.cases.RecordStatusChange(ctx, caseID, cases.StatusConfirmed, "placement confirmed", "system")
	return err
}

// ReleasePlacement frees a case's reservation and clears its placement,
// used on cancellation and delay.
func (s *Service) ReleasePlacement(ctx context.Context, caseID uuid.UUID) error {
	sc, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if sc.RoomID != nil {
		if err := s.engine.Release(*sc.RoomID, caseID); err != nil &&
			!errors.Is(err, timeline.ErrReservationNotFound) {
			return err
		}
	}
	return s.cases.Unplace(ctx, caseID)
}

// ObserveTransition implements cases.TransitionObserver: a case that is
// cancelled or delayed gives its room window back immediately, so the
// slot opens to other cases instead of shadowing the schedule until
// restart.
func (s *Service) ObserveTransition(ctx context.Context, c *cases.SurgicalCase, event cases.StatusEvent) {
	switch event.To {
	case cases.StatusCancelled, cases.StatusDelayed:
		if c.RoomID == nil {
			return
		}
		if err := s.engine.Release(*c.RoomID, c.ID); err != nil &&
			!errors.Is(err, timeline.ErrReservationNotFound) {
			log.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to release reservation")
		}
		if err := s.cases.Unplace(ctx, c.ID); err != nil {
			log.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to clear placement")
		}
	}
}

// SurgeonAvailability summarizes one surgeon's commitments on a date.
type SurgeonAvailability struct {
	SurgeonID uuid.UUID             `json:"surgeon_id"`
	Date      string                `json:"date"`
	Cases     []*cases.SurgicalCase `json:"cases"`
	Busy      []timeline.Interval   `json:"busy"`
}

// GetSurgeonAvailability lists a surgeon's scheduled cases and busy
// intervals on a date.
func (s *Service) GetSurgeonAvailability(ctx context.Context, surgeonID uuid.UUID, date time.Time) (*SurgeonAvailability, error) {
	list, _, err := s.cases.ListCases(ctx, cases.ListFilter{
		SurgeonID: surgeonID,
		Date:      &date,
		Limit:     500,
	})
	if err != nil {
		return nil, err
	}
	active := list[:0]
	for _, c := range list {
		if c.Status.Active() {
			active = append(active, c)
		}
	}
	list = active

	sort.Slice(list, func(i, j int) bool {
		if list[i].ScheduledStart == nil || list[j].ScheduledStart == nil {
			return false
		}
		return list[i].ScheduledStart.Before(*list[j].ScheduledStart)
	})

	var busy []timeline.Interval
	for _, c := range list {
		if c.Placed() {
			busy = append(busy, timeline.Interval{Start: *c.ScheduledStart, End: *c.ScheduledEnd})
		}
	}

	return &SurgeonAvailability{
		SurgeonID: surgeonID,
		Date:      date.Format("2006-01-02"),
		Cases:     list,
		Busy:      busy,
	}, nil
}

// ExpireHolds sweeps stale holds, reverts the affected cases to delayed
// state and announces each expiry. Meant to run periodically.
func (s *Service) ExpireHolds(ctx context.Context) int {
	expired := s.engine.ExpireHolds(s.opts.HoldTTL)
	for _, e := range expired {
		if err := s.cases.Unplace(ctx, e.CaseID); err != nil {
			log.Error().Err(err).Str("case_id", e.CaseID.String()).Msg("failed to unplace expired hold")
		}
		if _, err := s.cases.RecordStatusChange(ctx, e.CaseID, cases.StatusDelayed,
			"hold expired", "system"); err != nil {
			log.Error().Err(err).Str("case_id", e.CaseID.String()).Msg("failed to delay expired hold")
		}
		s.events.Publish(notification.Event{
			Type:   notification.EventCaseDelayed,
			CaseID: e.CaseID,
			RoomID: e.RoomID,
			Detail: map[string]interface{}{"reason": "hold_expired"},
		})
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("expired stale holds")
	}
	return len(expired)
}
