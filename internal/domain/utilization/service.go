package utilization

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/platform/timeline"
)

// Service tracks turnovers from live case transitions and computes room
// and block utilization from the timeline.
type Service struct {
	turnovers TurnoverRepository
	registry  *registry.Service
	engine    *timeline.Engine

	mu sync.Mutex
	// open turnovers: room ID -> the case whose procedure just ended
	// and when, waiting for the next patient to enter that room.
	open map[uuid.UUID]openTurnover

	defaultTargetMinutes int
}

type openTurnover struct {
	caseID uuid.UUID
	at     time.Time
}

// NewService creates a utilization service.
func NewService(turnovers TurnoverRepository, reg *registry.Service, engine *timeline.Engine,
	defaultTargetMinutes int) *Service {
	return &Service{
		turnovers:            turnovers,
		registry:             reg,
		engine:               engine,
		open:                 make(map[uuid.UUID]openTurnover),
		defaultTargetMinutes: defaultTargetMinutes,
	}
}

// ObserveTransition implements cases.TransitionObserver: a procedure end
// opens a turnover clock for its room; the next case entering the room
// closes it.
func (s *Service) ObserveTransition(ctx context.Context, c *cases.SurgicalCase, event cases.StatusEvent) {
	if c.RoomID == nil {
		return
	}
	roomID := *c.RoomID

	switch event.To {
	case cases.StatusProcedureEnd:
		s.mu.Lock()
		s.open[roomID] = openTurnover{caseID: c.ID, at: event.OccurredAt}
		s.mu.Unlock()

	case cases.StatusInRoom:
		s.mu.Lock()
		prev, ok := s.open[roomID]
		if ok {
			delete(s.open, roomID)
		}
		s.mu.Unlock()
		if !ok || prev.caseID == c.ID {
			return
		}
		minutes := event.OccurredAt.Sub(prev.at).Minutes()
		if minutes < 0 {
			return
		}
		instance := &TurnoverInstance{
			RoomID:     roomID,
			FromCaseID: prev.caseID,
			ToCaseID:   c.ID,
			StartedAt:  prev.at,
			EndedAt:    event.OccurredAt,
			Minutes:    math.Round(minutes*10) / 10,
		}
		if err := s.turnovers.Create(ctx, instance); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to record turnover")
		}
	}
}

// GetRoomTurnover summarizes a room's turnovers on a date.
func (s *Service) GetRoomTurnover(ctx context.Context, roomID uuid.UUID, date time.Time) (*TurnoverSummary, error) {
	room, err := s.registry.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	instances, err := s.turnovers.ListByRoom(ctx, roomID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	target := room.TurnoverMinutes
	if target == 0 {
		target = s.defaultTargetMinutes
	}

	summary := &TurnoverSummary{
		RoomID:        roomID,
		Date:          date.Format("2006-01-02"),
		Instances:     instances,
		TargetMinutes: target,
	}
	if len(instances) == 0 {
		return summary, nil
	}

	var total float64
	within := 0
	for _, ti := range instances {
		total += ti.Minutes
		if ti.Minutes <= float64(target) {
			within++
		}
	}
	summary.AverageMinutes = math.Round(total/float64(len(instances))*10) / 10
	summary.ComplianceRate = math.Round(float64(within)/float64(len(instances))*1000) / 1000
	return summary, nil
}

// GetRoomUtilization computes booked-over-staffed time for a room on a
// date. The result is clamped to [0,1]: overbooked days report 1.
func (s *Service) GetRoomUtilization(ctx context.Context, roomID uuid.UUID, date time.Time) (*RoomUtilization, error) {
	room, err := s.registry.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	open, closeAt := room.DayBounds(date)

	reservations, _, err := s.engine.Snapshot(roomID)
	if err != nil {
		return nil, err
	}

	booked := bookedMinutes(reservations, timeline.Interval{Start: open, End: closeAt})
	staffed := int(closeAt.Sub(open).Minutes())

	utilization := 0.0
	if staffed > 0 {
		utilization = float64(booked) / float64(staffed)
	}
	if utilization > 1 {
		utilization = 1
	}

	return &RoomUtilization{
		RoomID:         roomID,
		Date:           date.Format("2006-01-02"),
		StaffedMinutes: staffed,
		BookedMinutes:  booked,
		Utilization:    math.Round(utilization*1000) / 1000,
	}, nil
}

// GetBlockUtilization computes how much of each block window in a room
// is booked on a date, against the block's utilization target.
func (s *Service) GetBlockUtilization(ctx context.Context, roomID uuid.UUID, date time.Time) ([]*BlockUtilization, error) {
	blocks, err := s.registry.ListBlocksByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	reservations, _, err := s.engine.Snapshot(roomID)
	if err != nil {
		return nil, err
	}

	var out []*BlockUtilization
	for _, b := range blocks {
		if !b.ActiveOn(date) {
			continue
		}
		start, end := b.Window(date)
		window := timeline.Interval{Start: start, End: end}
		booked := bookedMinutes(reservations, window)
		blockMinutes := b.EndMinute - b.StartMinute

		utilization := 0.0
		if blockMinutes > 0 {
			utilization = float64(booked) / float64(blockMinutes)
		}
		if utilization > 1 {
			utilization = 1
		}
		utilization = math.Round(utilization*1000) / 1000

		out = append(out, &BlockUtilization{
			BlockID:       b.ID,
			RoomID:        roomID,
			Date:          date.Format("2006-01-02"),
			BlockMinutes:  blockMinutes,
			BookedMinutes: booked,
			Utilization:   utilization,
			Target:        b.UtilizationTarget,
			MeetsTarget:   utilization >= b.UtilizationTarget,
		})
	}
	return out, nil
}

// bookedMinutes sums reservation time clipped to the window.
func bookedMinutes(reservations []timeline.Reservation, window timeline.Interval) int {
	total := 0
	for _, r := range reservations {
		start, end := r.Start, r.End
		if start.Before(window.Start) {
			start = window.Start
		}
		if end.After(window.End) {
			end = window.End
		}
		if end.After(start) {
			total += int(end.Sub(start).Minutes())
		}
	}
	return total
}
