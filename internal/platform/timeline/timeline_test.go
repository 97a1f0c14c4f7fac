package timeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func iv(startHour, startMin, endHour, endMin int) Interval {
	return Interval{Start: at(startHour, startMin), End: at(endHour, endMin)}
}

func TestIntervalOverlaps(t *testing.T) {
	a := iv(8, 0, 10, 0)

	if !a.Overlaps(iv(9, 0, 11, 0)) {
		t.Error("partial overlap not detected")
	}
	if !a.Overlaps(iv(8, 30, 9, 30)) {
		t.Error("containment not detected")
	}
	if a.Overlaps(iv(10, 0, 12, 0)) {
		t.Error("touching intervals must not overlap")
	}
	if a.Overlaps(iv(6, 0, 8, 0)) {
		t.Error("touching intervals must not overlap")
	}
	if a.Overlaps(iv(11, 0, 12, 0)) {
		t.Error("disjoint intervals must not overlap")
	}
}

func TestReserveAndOverlapRejection(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	caseA := uuid.New()
	if _, err := e.Reserve(room, Reservation{CaseID: caseA, Interval: iv(8, 0, 10, 0)}); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}

	caseB := uuid.New()
	_, err := e.Reserve(room, Reservation{CaseID: caseB, Interval: iv(9, 0, 11, 0)})
	var overlap *OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	if len(overlap.Existing) != 1 || overlap.Existing[0].CaseID != caseA {
		t.Errorf("overlap should name the blocking reservation")
	}

	// Back-to-back is fine.
	if _, err := e.Reserve(room, Reservation{CaseID: caseB, Interval: iv(10, 0, 11, 0)}); err != nil {
		t.Fatalf("adjacent reserve failed: %v", err)
	}
}

func TestReserveIdempotent(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	caseA := uuid.New()
	res := Reservation{CaseID: caseA, Interval: iv(8, 0, 10, 0)}
	v1, err := e.Reserve(room, res)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	v2, err := e.Reserve(room, res)
	if err != nil {
		t.Fatalf("repeat reserve failed: %v", err)
	}
	if v1 != v2 {
		t.Errorf("idempotent reserve must not advance version: %d vs %d", v1, v2)
	}

	snap, _, _ := e.Snapshot(room)
	if len(snap) != 1 {
		t.Fatalf("expected single reservation, got %d", len(snap))
	}
}

func TestReserveMovesExistingCase(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	caseA := uuid.New()
	if _, err := e.Reserve(room, Reservation{CaseID: caseA, Interval: iv(8, 0, 10, 0)}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Reserve(room, Reservation{CaseID: caseA, Interval: iv(12, 0, 14, 0)}); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	snap, _, _ := e.Snapshot(room)
	if len(snap) != 1 || !snap[0].Start.Equal(at(12, 0)) {
		t.Errorf("expected case moved to 12:00, got %+v", snap)
	}
}

func TestReserveUnknownRoom(t *testing.T) {
	e := NewEngine()
	_, err := e.Reserve(uuid.New(), Reservation{CaseID: uuid.New(), Interval: iv(8, 0, 9, 0)})
	if !errors.Is(err, ErrRoomUnknown) {
		t.Fatalf("expected ErrRoomUnknown, got %v", err)
	}
}

func TestReserveCheckedVersionConflict(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	_, v, _ := e.Snapshot(room)

	// Someone else reserves in between.
	if _, err := e.Reserve(room, Reservation{CaseID: uuid.New(), Interval: iv(8, 0, 9, 0)}); err != nil {
		t.Fatal(err)
	}

	_, err := e.ReserveChecked(room, Reservation{CaseID: uuid.New(), Interval: iv(10, 0, 11, 0)},
		map[uuid.UUID]uint64{room: v})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// With a fresh snapshot the reserve goes through.
	_, v2, _ := e.Snapshot(room)
	if _, err := e.ReserveChecked(room, Reservation{CaseID: uuid.New(), Interval: iv(10, 0, 11, 0)},
		map[uuid.UUID]uint64{room: v2}); err != nil {
		t.Fatalf("checked reserve with current version failed: %v", err)
	}
}

func TestReleaseAndConfirm(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	caseA := uuid.New()
	if _, err := e.Reserve(room, Reservation{CaseID: caseA, Interval: iv(8, 0, 10, 0), Hold: true}); err != nil {
		t.Fatal(err)
	}

	if err := e.Confirm(room, caseA); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	snap, _, _ := e.Snapshot(room)
	if snap[0].Hold {
		t.Error("confirm did not clear hold flag")
	}

	if err := e.Release(room, caseA); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := e.Release(room, caseA); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestExchangeAtomicity(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	victim := uuid.New()
	keeper := uuid.New()
	if _, err := e.Reserve(room, Reservation{CaseID: victim, Interval: iv(8, 0, 10, 0)}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Reserve(room, Reservation{CaseID: keeper, Interval: iv(13, 0, 15, 0)}); err != nil {
		t.Fatal(err)
	}

	addOn := uuid.New()
	if _, err := e.Exchange(room, []uuid.UUID{victim}, Reservation{CaseID: addOn, Interval: iv(8, 0, 11, 0)}); err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	snap, _, _ := e.Snapshot(room)
	if len(snap) != 2 {
		t.Fatalf("expected 2 reservations after exchange, got %d", len(snap))
	}
	for _, r := range snap {
		if r.CaseID == victim {
			t.Error("victim still present after exchange")
		}
	}
}

func TestExchangeRejectsWhenSurvivorBlocks(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	victim := uuid.New()
	survivor := uuid.New()
	e.Reserve(room, Reservation{CaseID: victim, Interval: iv(8, 0, 10, 0)})
	e.Reserve(room, Reservation{CaseID: survivor, Interval: iv(10, 0, 12, 0)})

	// Incoming overlaps the survivor, not just the victim.
	_, err := e.Exchange(room, []uuid.UUID{victim}, Reservation{CaseID: uuid.New(), Interval: iv(8, 0, 11, 0)})
	var overlap *OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("expected OverlapError, got %v", err)
	}

	// Room untouched: victim still there.
	snap, _, _ := e.Snapshot(room)
	if len(snap) != 2 {
		t.Fatalf("failed exchange must leave room untouched, got %d reservations", len(snap))
	}
}

func TestExchangeMissingVictim(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	_, err := e.Exchange(room, []uuid.UUID{uuid.New()}, Reservation{CaseID: uuid.New(), Interval: iv(8, 0, 9, 0)})
	if !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestExpireHolds(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	stale := uuid.New()
	fresh := uuid.New()
	committed := uuid.New()
	e.Reserve(room, Reservation{CaseID: stale, Interval: iv(8, 0, 9, 0), Hold: true, HeldAt: time.Now().Add(-3 * time.Hour)})
	e.Reserve(room, Reservation{CaseID: fresh, Interval: iv(9, 0, 10, 0), Hold: true, HeldAt: time.Now()})
	e.Reserve(room, Reservation{CaseID: committed, Interval: iv(10, 0, 11, 0)})

	expired := e.ExpireHolds(2 * time.Hour)
	if len(expired) != 1 || expired[0].CaseID != stale {
		t.Fatalf("expected only stale hold to expire, got %+v", expired)
	}

	snap, _, _ := e.Snapshot(room)
	if len(snap) != 2 {
		t.Fatalf("expected 2 surviving reservations, got %d", len(snap))
	}
}

func TestFreeWindows(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	e.Reserve(room, Reservation{CaseID: uuid.New(), Interval: iv(9, 0, 10, 0)})
	e.Reserve(room, Reservation{CaseID: uuid.New(), Interval: iv(12, 0, 14, 0)})

	windows, err := e.FreeWindows(room, iv(7, 0, 17, 0), 90*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	want := []Interval{
		iv(7, 0, 9, 0),
		iv(10, 0, 12, 0),
		iv(14, 0, 17, 0),
	}
	if len(windows) != len(want) {
		t.Fatalf("expected %d windows, got %d: %+v", len(want), len(windows), windows)
	}
	for i := range want {
		if !windows[i].Start.Equal(want[i].Start) || !windows[i].End.Equal(want[i].End) {
			t.Errorf("window %d: expected %v, got %v", i, want[i], windows[i])
		}
	}

	// A stricter minimum filters the short gaps.
	windows, _ = e.FreeWindows(room, iv(7, 0, 17, 0), 150*time.Minute)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows at 150m minimum, got %d", len(windows))
	}
}

func TestConcurrentReservesNoDoubleBooking(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)

	// Many goroutines race for the same slot; exactly one may win.
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Reserve(room, Reservation{CaseID: uuid.New(), Interval: iv(8, 0, 10, 0)})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
	snap, _, _ := e.Snapshot(room)
	if len(snap) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(snap))
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	e := NewEngine()
	room := uuid.New()
	e.TrackRoom(room)
	e.Reserve(room, Reservation{CaseID: uuid.New(), Interval: iv(8, 0, 9, 0)})

	snap, _, _ := e.Snapshot(room)
	snap[0].CaseID = uuid.New()

	again, _, _ := e.Snapshot(room)
	if again[0].CaseID == snap[0].CaseID {
		t.Error("snapshot must not alias internal state")
	}
}
