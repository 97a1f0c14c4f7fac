package addon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/prediction"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/domain/schedule"
	"github.com/orsched/orsched/internal/platform/notification"
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
func (m *memRoomRepo) List(_ context.Context, limit, offset int) ([]*registry.Room, int, error) {
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

type memBlockRepo struct{}

func (memBlockRepo) Create(_ context.Context, b *registry.Block) error { return nil }
func (memBlockRepo) GetByID(_ context.Context, id uuid.UUID) (*registry.Block, error) {
	return nil, registry.ErrNotFound
}
func (memBlockRepo) ListByRoom(_ context.Context, _ uuid.UUID) ([]*registry.Block, error) {
	return nil, nil
}
func (memBlockRepo) ListForDate(_ context.Context, _ time.Time) ([]*registry.Block, error) {
	return nil, nil
}
func (memBlockRepo) Update(_ context.Context, _ *registry.Block) error { return nil }
func (memBlockRepo) Delete(_ context.Context, _ uuid.UUID) error       { return nil }

type memStaffRepo struct{}

func (memStaffRepo) Create(_ context.Context, s *registry.Staff) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
func (memStaffRepo) GetByID(_ context.Context, id uuid.UUID) (*registry.Staff, error) {
	return nil, registry.ErrNotFound
}
func (memStaffRepo) List(_ context.Context, _ registry.StaffRole, _, _ int) ([]*registry.Staff, int, error) {
	return nil, 0, nil
}
func (memStaffRepo) Update(_ context.Context, _ *registry.Staff) error { return nil }
func (memStaffRepo) Delete(_ context.Context, _ uuid.UUID) error       { return nil }

type memEquipmentRepo struct{}

func (memEquipmentRepo) Create(_ context.Context, e *registry.Equipment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
func (memEquipmentRepo) GetByID(_ context.Context, id uuid.UUID) (*registry.Equipment, error) {
	return nil, registry.ErrNotFound
}
func (memEquipmentRepo) List(_ context.Context, _, _ int) ([]*registry.Equipment, int, error) {
	return nil, 0, nil
}
func (memEquipmentRepo) Update(_ context.Context, _ *registry.Equipment) error { return nil }
func (memEquipmentRepo) Delete(_ context.Context, _ uuid.UUID) error           { return nil }

type memCaseRepo struct {
	cases  map[uuid.UUID]*cases.SurgicalCase
	events map[uuid.UUID][]*cases.StatusEvent
}

func (m *memCaseRepo) Create(_ context.Context, c *cases.SurgicalCase) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.cases[c.ID] = c
	return nil
}
func (m *memCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*cases.SurgicalCase, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, cases.ErrNotFound
	}
	cp := *c
	return &cp, nil
}
func (m *memCaseRepo) List(_ context.Context, filter cases.ListFilter) ([]*cases.SurgicalCase, int, error) {
	var out []*cases.SurgicalCase
	for _, c := range m.cases {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Date != nil {
			if c.ScheduledStart == nil {
				continue
			}
			y1, m1, d1 := c.ScheduledStart.Date()
			y2, m2, d2 := filter.Date.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		}
		out = append(out, c)
	}
	return out, len(out), nil
}
func (m *memCaseRepo) Update(_ context.Context, c *cases.SurgicalCase) error {
	cp := *c
	m.cases[c.ID] = &cp
	return nil
}
func (m *memCaseRepo) AppendEvent(_ context.Context, e *cases.StatusEvent) error {
	m.events[e.CaseID] = append(m.events[e.CaseID], e)
	return nil
}
func (m *memCaseRepo) ListEvents(_ context.Context, caseID uuid.UUID) ([]*cases.StatusEvent, error) {
	return m.events[caseID], nil
}

type memBumpRepo struct {
	records map[uuid.UUID]*BumpRecord
}

func (m *memBumpRepo) Create(_ context.Context, r *BumpRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	m.records[r.ID] = &cp
	return nil
}
func (m *memBumpRepo) GetByID(_ context.Context, id uuid.UUID) (*BumpRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}
func (m *memBumpRepo) Update(_ context.Context, r *BumpRecord) error {
	if _, ok := m.records[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.records[r.ID] = &cp
	return nil
}
func (m *memBumpRepo) ListPending(_ context.Context) ([]*BumpRecord, error) {
	var out []*BumpRecord
	for _, r := range m.records {
		if r.Status == BumpPending {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memBumpRepo) CountCommittedForRoom(_ context.Context, roomID uuid.UUID, from, to time.Time) (int, error) {
	count := 0
	for _, r := range m.records {
		if r.Status == BumpCommitted && r.RoomID == roomID && !r.Start.Before(from) && r.Start.Before(to) {
			count++
		}
	}
	return count, nil
}

type memHistory struct{}

func (memHistory) Record(_ context.Context, _ *prediction.Observation) error { return nil }
func (memHistory) StatsForProcedure(_ context.Context, _ string) (*prediction.Stats, error) {
	return nil, prediction.ErrNoHistory
}
func (memHistory) StatsForSurgeon(_ context.Context, _ string, _ uuid.UUID) (*prediction.Stats, error) {
	return nil, prediction.ErrNoHistory
}

// ---- harness ----

type harness struct {
	registry   *registry.Service
	cases      *cases.Service
	engine     *timeline.Engine
	scheduler  *schedule.Service
	bumps      *memBumpRepo
	controller *Controller
}

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	engine := timeline.NewEngine()
	regSvc := registry.NewService(
		&memRoomRepo{rooms: make(map[uuid.UUID]*registry.Room)},
		memBlockRepo{}, memStaffRepo{}, memEquipmentRepo{}, engine)
	caseSvc := cases.NewService(&memCaseRepo{
		cases:  make(map[uuid.UUID]*cases.SurgicalCase),
		events: make(map[uuid.UUID][]*cases.StatusEvent),
	})
	predictor := prediction.NewPredictor(memHistory{})
	detector := schedule.NewDetector(regSvc, caseSvc, engine, 30)
	dispatcher := notification.NewDispatcher(64)
	t.Cleanup(dispatcher.Close)

	scheduler := schedule.NewService(regSvc, caseSvc, predictor, detector, engine, dispatcher,
		schedule.Options{RetryLimit: 3, DefaultTurnoverMinutes: 30, HoldTTL: 2 * time.Hour})
	bumps := &memBumpRepo{records: make(map[uuid.UUID]*BumpRecord)}
	controller := NewController(caseSvc, regSvc, scheduler, detector, engine, dispatcher, bumps, policy)

	return &harness{
		registry:   regSvc,
		cases:      caseSvc,
		engine:     engine,
		scheduler:  scheduler,
		bumps:      bumps,
		controller: controller,
	}
}

// addSmallRoom creates a room open 08:00-10:00 so a single two-hour
// case fills it completely.
func (h *harness) addSmallRoom(t *testing.T) *registry.Room {
	t.Helper()
	room := &registry.Room{
		Name:            "OR-1",
		TurnoverMinutes: 30,
		OpensAt:         8 * 60,
		ClosesAt:        10 * 60,
	}
	if err := h.registry.CreateRoom(context.Background(), room); err != nil {
		t.Fatal(err)
	}
	return room
}

func (h *harness) addCase(t *testing.T, priority cases.Priority, minutes int) *cases.SurgicalCase {
	t.Helper()
	c := &cases.SurgicalCase{
		PatientRef:       "pat",
		ProcedureCode:    "44970",
		SurgeonID:        uuid.New(),
		ServiceLine:      "general",
		Priority:         priority,
		ASAClass:         2,
		EstimatedMinutes: minutes,
	}
	if err := h.cases.CreateCase(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func (h *harness) fillRoom(t *testing.T, room *registry.Room, priority cases.Priority) *cases.SurgicalCase {
	t.Helper()
	victim := h.addCase(t, priority, 120)
	start := day.Add(8 * time.Hour)
	if _, err := h.scheduler.ScheduleCase(context.Background(), victim.ID, schedule.ScheduleRequest{
		RoomID: &room.ID, Start: &start, Actor: "test",
	}); err != nil {
		t.Fatalf("fill room: %v", err)
	}
	return victim
}

// ---- tests ----

func TestAdmitIntoOpenCapacity(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addSmallRoom(t)

	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if !result.OpenCapacity {
		t.Error("expected open-capacity admission")
	}
	if result.Bump != nil {
		t.Error("open-capacity admission must not bump")
	}
	if result.Case.Status != cases.StatusScheduled {
		t.Errorf("expected scheduled, got %s", result.Case.Status)
	}
}

func TestAdmitBumpsElectiveWhenFull(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	room := h.addSmallRoom(t)
	victim := h.fillRoom(t, room, cases.PriorityElective)

	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if result.OpenCapacity {
		t.Error("expected bump admission, not open capacity")
	}
	if result.Bump == nil || result.Bump.Status != BumpCommitted {
		t.Fatalf("expected committed bump record, got %+v", result.Bump)
	}
	if len(result.Bump.VictimCaseIDs) != 1 || result.Bump.VictimCaseIDs[0] != victim.ID {
		t.Errorf("expected single victim %s, got %v", victim.ID, result.Bump.VictimCaseIDs)
	}

	// Victim displaced.
	got, _ := h.cases.GetCase(context.Background(), victim.ID)
	if got.Status != cases.StatusBumped {
		t.Errorf("victim should be bumped, got %s", got.Status)
	}
	if got.Placed() {
		t.Error("victim should be unplaced")
	}

	// Add-on holds the room; victim gone from the timeline.
	snap, _, _ := h.engine.Snapshot(room.ID)
	if len(snap) != 1 || snap[0].CaseID != addOn.ID {
		t.Fatalf("expected add-on alone in timeline, got %+v", snap)
	}
	if !snap[0].Start.Equal(day.Add(8 * time.Hour)) {
		t.Errorf("add-on should take the victim's start, got %v", snap[0].Start)
	}
}

func TestAdmitDeniedNoDisplaceableCapacity(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	room := h.addSmallRoom(t)
	// The room is full of an urgent case, which the policy protects.
	h.fillRoom(t, room, cases.PriorityUrgent)

	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	_, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Reason != ReasonNoDisplaceableCapacity {
		t.Errorf("expected NO_DISPLACEABLE_CAPACITY, got %s", denied.Reason)
	}

	// A denied record lands in the audit trail.
	found := false
	for _, r := range h.bumps.records {
		if r.Status == BumpDenied && r.AddOnCaseID == addOn.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected a denied bump record")
	}
}

func TestAdmitRejectsElectiveAddOn(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	h.addSmallRoom(t)

	elective := h.addCase(t, cases.PriorityElective, 60)
	_, err := h.controller.Admit(context.Background(), elective.ID, day, "charge")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Reason != ReasonNotAnAddOn {
		t.Errorf("expected NOT_AN_ADD_ON, got %s", denied.Reason)
	}
}

func TestAdmitRespectsRoomBumpLimit(t *testing.T) {
	h := newHarness(t, DefaultPolicy()) // MaxBumpsPerDay = 1
	// A longer day so two electives fill the room back to back.
	room := &registry.Room{
		Name:            "OR-1",
		TurnoverMinutes: 30,
		OpensAt:         8 * 60,
		ClosesAt:        13 * 60,
	}
	if err := h.registry.CreateRoom(context.Background(), room); err != nil {
		t.Fatal(err)
	}
	schedAt := func(c *cases.SurgicalCase, start time.Time) {
		t.Helper()
		if _, err := h.scheduler.ScheduleCase(context.Background(), c.ID, schedule.ScheduleRequest{
			RoomID: &room.ID, Start: &start, Actor: "test",
		}); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	first := h.addCase(t, cases.PriorityElective, 120)
	schedAt(first, day.Add(8*time.Hour))
	second := h.addCase(t, cases.PriorityElective, 120)
	schedAt(second, day.Add(10*time.Hour+30*time.Minute))

	// The first add-on spends the room's bump for the day.
	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatalf("first admit failed: %v", err)
	}
	if result.Bump == nil || result.Bump.Status != BumpCommitted {
		t.Fatalf("expected committed bump, got %+v", result.Bump)
	}

	// The second add-on is refused even though another elective still
	// sits in the room: the cap counts bumps per room, not per victim.
	late := h.addCase(t, cases.PriorityEmergent, 120)
	_, err = h.controller.Admit(context.Background(), late.ID, day, "charge")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial once the room hit its bump cap, got %v", err)
	}
	if denied.Reason != ReasonNoDisplaceableCapacity {
		t.Errorf("expected NO_DISPLACEABLE_CAPACITY, got %s", denied.Reason)
	}

	got, _ := h.cases.GetCase(context.Background(), first.ID)
	if got.Status != cases.StatusScheduled {
		t.Errorf("remaining elective must keep its slot, got %s", got.Status)
	}
}

func TestAdmitUrgentCannotBumpUrgent(t *testing.T) {
	policy := Policy{MaxBumpsPerDay: 1} // no protected priorities
	h := newHarness(t, policy)
	room := h.addSmallRoom(t)
	h.fillRoom(t, room, cases.PriorityUrgent)

	// Equal priority never displaces.
	addOn := h.addCase(t, cases.PriorityUrgent, 60)
	_, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial, got %v", err)
	}
}

func TestApprovalWorkflow(t *testing.T) {
	policy := DefaultPolicy()
	policy.ApprovalRequired = true
	h := newHarness(t, policy)
	room := h.addSmallRoom(t)
	victim := h.fillRoom(t, room, cases.PriorityElective)

	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if result.Bump == nil || result.Bump.Status != BumpPending {
		t.Fatalf("expected pending bump, got %+v", result.Bump)
	}

	// Nothing moved yet: victim still scheduled and in the timeline.
	got, _ := h.cases.GetCase(context.Background(), victim.ID)
	if got.Status != cases.StatusScheduled {
		t.Errorf("victim must stay scheduled until approval, got %s", got.Status)
	}
	snap, _, _ := h.engine.Snapshot(room.ID)
	if len(snap) != 1 || snap[0].CaseID != victim.ID {
		t.Fatal("timeline must be untouched while pending")
	}

	approved, err := h.controller.Approve(context.Background(), result.Bump.ID, "or-director")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Bump.Status != BumpCommitted {
		t.Errorf("expected committed after approval, got %s", approved.Bump.Status)
	}
	got, _ = h.cases.GetCase(context.Background(), victim.ID)
	if got.Status != cases.StatusBumped {
		t.Errorf("victim should be bumped after approval, got %s", got.Status)
	}
	snap, _, _ = h.engine.Snapshot(room.ID)
	if len(snap) != 1 || snap[0].CaseID != addOn.ID {
		t.Fatal("add-on should hold the room after approval")
	}
}

func TestRejectLeavesScheduleUntouched(t *testing.T) {
	policy := DefaultPolicy()
	policy.ApprovalRequired = true
	h := newHarness(t, policy)
	room := h.addSmallRoom(t)
	victim := h.fillRoom(t, room, cases.PriorityElective)

	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatal(err)
	}

	record, err := h.controller.Reject(context.Background(), result.Bump.ID, "victim is prepped", "or-director")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if record.Status != BumpRejected {
		t.Errorf("expected rejected, got %s", record.Status)
	}

	got, _ := h.cases.GetCase(context.Background(), victim.ID)
	if got.Status != cases.StatusScheduled {
		t.Errorf("victim must keep its slot after rejection, got %s", got.Status)
	}
	snap, _, _ := h.engine.Snapshot(room.ID)
	if len(snap) != 1 || snap[0].CaseID != victim.ID {
		t.Fatal("timeline must be untouched after rejection")
	}

	// A decided record cannot be decided again.
	if _, err := h.controller.Approve(context.Background(), record.ID, "or-director"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error approving a rejected bump, got %v", err)
	}
}

func TestAdmitBumpsLatestBookedOnTie(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	roomA := h.addSmallRoom(t)
	roomB := h.addSmallRoom(t)

	// Two identical electives, same slot in different rooms. The one
	// booked last got the least notice and should absorb the bump.
	book := func(room *registry.Room, createdAt time.Time) *cases.SurgicalCase {
		t.Helper()
		c := &cases.SurgicalCase{
			PatientRef:       "pat",
			ProcedureCode:    "44970",
			SurgeonID:        uuid.New(),
			ServiceLine:      "general",
			Priority:         cases.PriorityElective,
			ASAClass:         2,
			EstimatedMinutes: 120,
			CreatedAt:        createdAt,
		}
		if err := h.cases.CreateCase(context.Background(), c); err != nil {
			t.Fatal(err)
		}
		start := day.Add(8 * time.Hour)
		if _, err := h.scheduler.ScheduleCase(context.Background(), c.ID, schedule.ScheduleRequest{
			RoomID: &room.ID, Start: &start, Actor: "test",
		}); err != nil {
			t.Fatal(err)
		}
		return c
	}
	early := book(roomA, day.AddDate(0, 0, -14))
	late := book(roomB, day.AddDate(0, 0, -1))

	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if result.Bump == nil || len(result.Bump.VictimCaseIDs) != 1 {
		t.Fatalf("expected a single-victim bump, got %+v", result.Bump)
	}
	if result.Bump.VictimCaseIDs[0] != late.ID {
		t.Errorf("expected the later booking %s displaced, got %s", late.ID, result.Bump.VictimCaseIDs[0])
	}

	got, _ := h.cases.GetCase(context.Background(), early.ID)
	if got.Status != cases.StatusScheduled {
		t.Errorf("earlier booking must keep its slot, got %s", got.Status)
	}
}

func TestAdmitRecordsUrgencyScore(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	room := h.addSmallRoom(t)
	h.fillRoom(t, room, cases.PriorityElective)

	addOn := &cases.SurgicalCase{
		PatientRef:       "pat",
		ProcedureCode:    "44970",
		SurgeonID:        uuid.New(),
		ServiceLine:      "general",
		Priority:         cases.PriorityEmergent,
		Indication:       "ruptured AAA",
		ASAClass:         4,
		EstimatedMinutes: 60,
	}
	if err := h.cases.CreateCase(context.Background(), addOn); err != nil {
		t.Fatal(err)
	}

	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	want := UrgencyScore(addOn)
	if want <= float64(cases.PriorityEmergent.Rank())*40 {
		t.Fatalf("indication keyword should raise the score above the bare priority, got %v", want)
	}
	if result.UrgencyScore != want {
		t.Errorf("result urgency = %v, want %v", result.UrgencyScore, want)
	}
	if result.Bump == nil || result.Bump.UrgencyScore != want {
		t.Errorf("bump record urgency = %+v, want %v", result.Bump, want)
	}
	stored, err := h.bumps.GetByID(context.Background(), result.Bump.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.UrgencyScore != want {
		t.Errorf("persisted urgency = %v, want %v", stored.UrgencyScore, want)
	}
}

func TestApproveFailsOnceVictimInRoom(t *testing.T) {
	policy := DefaultPolicy()
	policy.ApprovalRequired = true
	h := newHarness(t, policy)
	room := h.addSmallRoom(t)
	victim := h.fillRoom(t, room, cases.PriorityElective)

	addOn := h.addCase(t, cases.PriorityEmergent, 60)
	result, err := h.controller.Admit(context.Background(), addOn.ID, day, "charge")
	if err != nil {
		t.Fatal(err)
	}

	// The patient reaches the room while the bump sits in the queue.
	walk := []cases.Status{cases.StatusConfirmed, cases.StatusPreOp, cases.StatusReady, cases.StatusInRoom}
	for _, status := range walk {
		if _, err := h.cases.RecordStatusChange(context.Background(), victim.ID, status, "", "nurse"); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}

	if _, err := h.controller.Approve(context.Background(), result.Bump.ID, "or-director"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error approving against an in-room victim, got %v", err)
	}

	// Nothing committed: record still pending, victim keeps the room.
	record, err := h.bumps.GetByID(context.Background(), result.Bump.ID)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != BumpPending {
		t.Errorf("record must stay pending after a failed approval, got %s", record.Status)
	}
	snap, _, _ := h.engine.Snapshot(room.ID)
	if len(snap) != 1 || snap[0].CaseID != victim.ID {
		t.Fatalf("victim must keep the timeline slot, got %+v", snap)
	}
}
