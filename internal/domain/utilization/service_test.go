package utilization

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/platform/timeline"
)

// ---- in-memory repositories ----

type memRoomRepo struct{ rooms map[uuid.UUID]*registry.Room }

func (m *memRoomRepo) Create(_ context.Context, r *registry.Room) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.rooms[r.ID] = r
	return nil
}
func (m *memRoomRepo) GetByID(_ context.Context, id uuid.UUID) (*registry.Room, error) {
	r, ok := m.rooms[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return r, nil
}
func (m *memRoomRepo) List(_ context.Context, _, _ int) ([]*registry.Room, int, error) {
	var out []*registry.Room
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out, len(out), nil
}
func (m *memRoomRepo) Update(_ context.Context, r *registry.Room) error {
	m.rooms[r.ID] = r
	return nil
}
func (m *memRoomRepo) Delete(_ context.Context, id uuid.UUID) error { delete(m.rooms, id); return nil }

type memBlockRepo struct{ blocks []*registry.Block }

func (m *memBlockRepo) Create(_ context.Context, b *registry.Block) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	m.blocks = append(m.blocks, b)
	return nil
}
func (m *memBlockRepo) GetByID(_ context.Context, id uuid.UUID) (*registry.Block, error) {
	for _, b := range m.blocks {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, registry.ErrNotFound
}
func (m *memBlockRepo) ListByRoom(_ context.Context, roomID uuid.UUID) ([]*registry.Block, error) {
	var out []*registry.Block
	for _, b := range m.blocks {
		if b.RoomID == roomID {
			out = append(out, b)
		}
	}
	return out, nil
}
func (m *memBlockRepo) ListForDate(_ context.Context, date time.Time) ([]*registry.Block, error) {
	var out []*registry.Block
	for _, b := range m.blocks {
		if b.ActiveOn(date) {
			out = append(out, b)
		}
	}
	return out, nil
}
func (m *memBlockRepo) Update(_ context.Context, _ *registry.Block) error { return nil }
func (m *memBlockRepo) Delete(_ context.Context, _ uuid.UUID) error       { return nil }

type memStaffRepo struct{}

func (memStaffRepo) Create(_ context.Context, s *registry.Staff) error { return nil }
func (memStaffRepo) GetByID(_ context.Context, _ uuid.UUID) (*registry.Staff, error) {
	return nil, registry.ErrNotFound
}
func (memStaffRepo) List(_ context.Context, _ registry.StaffRole, _, _ int) ([]*registry.Staff, int, error) {
	return nil, 0, nil
}
func (memStaffRepo) Update(_ context.Context, _ *registry.Staff) error { return nil }
func (memStaffRepo) Delete(_ context.Context, _ uuid.UUID) error       { return nil }

type memEquipmentRepo struct{}

func (memEquipmentRepo) Create(_ context.Context, _ *registry.Equipment) error { return nil }
func (memEquipmentRepo) GetByID(_ context.Context, _ uuid.UUID) (*registry.Equipment, error) {
	return nil, registry.ErrNotFound
}
func (memEquipmentRepo) List(_ context.Context, _, _ int) ([]*registry.Equipment, int, error) {
	return nil, 0, nil
}
func (memEquipmentRepo) Update(_ context.Context, _ *registry.Equipment) error { return nil }
func (memEquipmentRepo) Delete(_ context.Context, _ uuid.UUID) error           { return nil }

type memTurnoverRepo struct{ instances []*TurnoverInstance }

func (m *memTurnoverRepo) Create(_ context.Context, ti *TurnoverInstance) error {
	if ti.ID == uuid.Nil {
		ti.ID = uuid.New()
	}
	cp := *ti
	m.instances = append(m.instances, &cp)
	return nil
}
func (m *memTurnoverRepo) ListByRoom(_ context.Context, roomID uuid.UUID, from, to time.Time) ([]*TurnoverInstance, error) {
	var out []*TurnoverInstance
	for _, ti := range m.instances {
		if ti.RoomID == roomID && !ti.EndedAt.Before(from) && ti.EndedAt.Before(to) {
			out = append(out, ti)
		}
	}
	return out, nil
}

// ---- harness ----

// day is a Monday.
var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type harness struct {
	registry  *registry.Service
	engine    *timeline.Engine
	turnovers *memTurnoverRepo
	service   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine := timeline.NewEngine()
	regSvc := registry.NewService(
		&memRoomRepo{rooms: make(map[uuid.UUID]*registry.Room)},
		&memBlockRepo{}, memStaffRepo{}, memEquipmentRepo{}, engine)
	turnovers := &memTurnoverRepo{}
	return &harness{
		registry:  regSvc,
		engine:    engine,
		turnovers: turnovers,
		service:   NewService(turnovers, regSvc, engine, 30),
	}
}

// addRoom creates a room open 08:00-16:00.
func (h *harness) addRoom(t *testing.T, turnoverMinutes int) *registry.Room {
	t.Helper()
	room := &registry.Room{
		Name:            "OR-1",
		TurnoverMinutes: turnoverMinutes,
		OpensAt:         8 * 60,
		ClosesAt:        16 * 60,
	}
	if err := h.registry.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func (h *harness) reserve(t *testing.T, roomID uuid.UUID, startHour, endHour float64) {
	t.Helper()
	_, err := h.engine.Reserve(roomID, timeline.Reservation{
		CaseID: uuid.New(),
		Interval: timeline.Interval{
			Start: day.Add(time.Duration(startHour * float64(time.Hour))),
			End:   day.Add(time.Duration(endHour * float64(time.Hour))),
		},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
}

func placedCase(roomID uuid.UUID) *cases.SurgicalCase {
	return &cases.SurgicalCase{ID: uuid.New(), RoomID: &roomID}
}

// ---- tests ----

func TestObserverRecordsTurnover(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 25)
	ctx := context.Background()

	first := placedCase(room.ID)
	second := placedCase(room.ID)

	endAt := day.Add(10 * time.Hour)
	h.service.ObserveTransition(ctx, first, cases.StatusEvent{
		CaseID:     first.ID,
		From:       cases.StatusProcedureStart,
		To:         cases.StatusProcedureEnd,
		OccurredAt: endAt,
	})
	if len(h.turnovers.instances) != 0 {
		t.Fatalf("turnover recorded before next case entered")
	}

	h.service.ObserveTransition(ctx, second, cases.StatusEvent{
		CaseID:     second.ID,
		From:       cases.StatusReady,
		To:         cases.StatusInRoom,
		OccurredAt: endAt.Add(22 * time.Minute),
	})
	if len(h.turnovers.instances) != 1 {
		t.Fatalf("expected 1 turnover, got %d", len(h.turnovers.instances))
	}
	ti := h.turnovers.instances[0]
	if ti.FromCaseID != first.ID || ti.ToCaseID != second.ID {
		t.Errorf("turnover links wrong cases: from %s to %s", ti.FromCaseID, ti.ToCaseID)
	}
	if ti.Minutes != 22 {
		t.Errorf("expected 22 minutes, got %v", ti.Minutes)
	}
}

func TestObserverIgnoresSameCaseReentry(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 25)
	ctx := context.Background()

	c := placedCase(room.ID)
	h.service.ObserveTransition(ctx, c, cases.StatusEvent{
		CaseID: c.ID, To: cases.StatusProcedureEnd, OccurredAt: day.Add(10 * time.Hour),
	})
	h.service.ObserveTransition(ctx, c, cases.StatusEvent{
		CaseID: c.ID, To: cases.StatusInRoom, OccurredAt: day.Add(11 * time.Hour),
	})
	if len(h.turnovers.instances) != 0 {
		t.Fatalf("same-case re-entry must not record a turnover")
	}
}

func TestObserverIgnoresUnplacedCases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := &cases.SurgicalCase{ID: uuid.New()}
	h.service.ObserveTransition(ctx, c, cases.StatusEvent{
		CaseID: c.ID, To: cases.StatusProcedureEnd, OccurredAt: day.Add(10 * time.Hour),
	})
	if len(h.turnovers.instances) != 0 {
		t.Fatalf("unplaced case must not open a turnover")
	}
}

func TestGetRoomTurnoverSummary(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 30)
	ctx := context.Background()

	// Three turnovers: 20, 30 and 40 minutes. Two are at or under the
	// 30-minute target.
	for i, minutes := range []float64{20, 30, 40} {
		started := day.Add(time.Duration(9+2*i) * time.Hour)
		h.turnovers.instances = append(h.turnovers.instances, &TurnoverInstance{
			ID:         uuid.New(),
			RoomID:     room.ID,
			FromCaseID: uuid.New(),
			ToCaseID:   uuid.New(),
			StartedAt:  started,
			EndedAt:    started.Add(time.Duration(minutes) * time.Minute),
			Minutes:    minutes,
		})
	}

	summary, err := h.service.GetRoomTurnover(ctx, room.ID, day)
	if err != nil {
		t.Fatalf("GetRoomTurnover: %v", err)
	}
	if len(summary.Instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(summary.Instances))
	}
	if summary.AverageMinutes != 30 {
		t.Errorf("expected average 30, got %v", summary.AverageMinutes)
	}
	if summary.TargetMinutes != 30 {
		t.Errorf("expected target 30, got %d", summary.TargetMinutes)
	}
	if summary.ComplianceRate != 0.667 {
		t.Errorf("expected compliance 0.667, got %v", summary.ComplianceRate)
	}
}

func TestGetRoomTurnoverFallsBackToDefaultTarget(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 0)

	summary, err := h.service.GetRoomTurnover(context.Background(), room.ID, day)
	if err != nil {
		t.Fatalf("GetRoomTurnover: %v", err)
	}
	if summary.TargetMinutes != 30 {
		t.Errorf("expected default target 30, got %d", summary.TargetMinutes)
	}
	if len(summary.Instances) != 0 || summary.AverageMinutes != 0 {
		t.Errorf("empty day should report zero turnovers")
	}
}

func TestGetRoomTurnoverUnknownRoom(t *testing.T) {
	h := newHarness(t)
	if _, err := h.service.GetRoomTurnover(context.Background(), uuid.New(), day); err == nil {
		t.Fatal("expected error for unknown room")
	}
}

func TestGetRoomUtilization(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 30) // staffed 08:00-16:00, 480 minutes

	h.reserve(t, room.ID, 8, 10)  // 120 min
	h.reserve(t, room.ID, 11, 13) // 120 min

	result, err := h.service.GetRoomUtilization(context.Background(), room.ID, day)
	if err != nil {
		t.Fatalf("GetRoomUtilization: %v", err)
	}
	if result.StaffedMinutes != 480 {
		t.Errorf("expected 480 staffed minutes, got %d", result.StaffedMinutes)
	}
	if result.BookedMinutes != 240 {
		t.Errorf("expected 240 booked minutes, got %d", result.BookedMinutes)
	}
	if result.Utilization != 0.5 {
		t.Errorf("expected utilization 0.5, got %v", result.Utilization)
	}
}

func TestGetRoomUtilizationClipsToStaffedDay(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 30)

	// Reservation spills past closing; only the in-hours portion counts.
	h.reserve(t, room.ID, 15, 18)

	result, err := h.service.GetRoomUtilization(context.Background(), room.ID, day)
	if err != nil {
		t.Fatalf("GetRoomUtilization: %v", err)
	}
	if result.BookedMinutes != 60 {
		t.Errorf("expected 60 booked minutes, got %d", result.BookedMinutes)
	}
	if result.Utilization != 0.125 {
		t.Errorf("expected utilization 0.125, got %v", result.Utilization)
	}
}

func TestGetBlockUtilization(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 30)
	ctx := context.Background()

	block := &registry.Block{
		RoomID:            room.ID,
		ServiceLine:       "ortho",
		Weekday:           time.Monday,
		StartMinute:       8 * 60,
		EndMinute:         12 * 60,
		UtilizationTarget: 0.75,
		EffectiveFrom:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := h.registry.CreateBlock(ctx, block); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	// 2 of the block's 4 hours are booked.
	h.reserve(t, room.ID, 9, 11)

	out, err := h.service.GetBlockUtilization(ctx, room.ID, day)
	if err != nil {
		t.Fatalf("GetBlockUtilization: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 block, got %d", len(out))
	}
	bu := out[0]
	if bu.BlockMinutes != 240 || bu.BookedMinutes != 120 {
		t.Errorf("expected 120/240 minutes, got %d/%d", bu.BookedMinutes, bu.BlockMinutes)
	}
	if bu.Utilization != 0.5 {
		t.Errorf("expected utilization 0.5, got %v", bu.Utilization)
	}
	if bu.MeetsTarget {
		t.Error("0.5 must not meet a 0.75 target")
	}
}

func TestGetBlockUtilizationSkipsInactiveBlocks(t *testing.T) {
	h := newHarness(t)
	room := h.addRoom(t, 30)
	ctx := context.Background()

	block := &registry.Block{
		RoomID:        room.ID,
		ServiceLine:   "ortho",
		Weekday:       time.Tuesday,
		StartMinute:   8 * 60,
		EndMinute:     12 * 60,
		EffectiveFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := h.registry.CreateBlock(ctx, block); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	out, err := h.service.GetBlockUtilization(ctx, room.ID, day)
	if err != nil {
		t.Fatalf("GetBlockUtilization: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("a Tuesday block must not appear on a Monday, got %d", len(out))
	}
}
