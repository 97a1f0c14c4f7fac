package timeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRoomUnknown is returned when an operation targets a room the
	// engine does not track.
	ErrRoomUnknown = errors.New("room not tracked by timeline engine")

	// ErrReservationNotFound is returned when releasing or confirming a
	// reservation that does not exist.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrVersionConflict is returned by checked operations when a room
	// timeline changed since the caller observed it.
	ErrVersionConflict = errors.New("timeline version conflict")
)

// OverlapError reports that a requested interval collides with existing
// reservations in a room.
type OverlapError struct {
	RoomID   uuid.UUID
	CaseID   uuid.UUID
	Existing []Reservation
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("interval for case %s overlaps %d existing reservation(s) in room %s",
		e.CaseID, len(e.Existing), e.RoomID)
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals intersect. Intervals
// that merely touch do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Valid reports whether the interval has positive length.
func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Reservation is a claim on a room for one case. A Hold reservation is
// tentative and expires if not confirmed within the hold TTL.
type Reservation struct {
	CaseID uuid.UUID `json:"case_id"`
	Interval
	Hold   bool      `json:"hold"`
	HeldAt time.Time `json:"held_at,omitempty"`
}

// roomTimeline guards one room's reservations. All mutation of a room
// happens under its own mutex, which is what makes double-booking
// impossible regardless of caller interleaving.
type roomTimeline struct {
	mu           sync.Mutex
	version      uint64
	reservations []Reservation // sorted by Start
}

func (rt *roomTimeline) overlapping(iv Interval, excludeCase uuid.UUID) []Reservation {
	var out []Reservation
	for _, r := range rt.reservations {
		if r.CaseID == excludeCase {
			continue
		}
		if r.Interval.Overlaps(iv) {
			out = append(out, r)
		}
	}
	return out
}

func (rt *roomTimeline) insert(res Reservation) {
	idx := sort.Search(len(rt.reservations), func(i int) bool {
		return rt.reservations[i].Start.After(res.Start)
	})
	rt.reservations = append(rt.reservations, Reservation{})
	copy(rt.reservations[idx+1:], rt.reservations[idx:])
	rt.reservations[idx] = res
	rt.version++
}

func (rt *roomTimeline) remove(caseID uuid.UUID) bool {
	for i, r := range rt.reservations {
		if r.CaseID == caseID {
			rt.reservations = append(rt.reservations[:i], rt.reservations[i+1:]...)
			rt.version++
			return true
		}
	}
	return false
}

// Engine tracks reservations per room and serializes all mutation of a
// room through that room's lock.
type Engine struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*roomTimeline
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{rooms: make(map[uuid.UUID]*roomTimeline)}
}

// TrackRoom registers a room with the engine. Tracking an already-known
// room is a no-op.
func (e *Engine) TrackRoom(roomID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rooms[roomID]; !ok {
		e.rooms[roomID] = &roomTimeline{}
	}
}

// UntrackRoom removes a room and all its reservations.
func (e *Engine) UntrackRoom(roomID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rooms, roomID)
}

func (e *Engine) room(roomID uuid.UUID) (*roomTimeline, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt, ok := e.rooms[roomID]
	if !ok {
		return nil, ErrRoomUnknown
	}
	return rt, nil
}

// Reserve claims an interval in a room. The call is idempotent: reserving
// the same case with the same interval again returns the current version
// without error. Reserving the same case with a different interval moves
// the reservation, subject to the overlap check.
func (e *Engine) Reserve(roomID uuid.UUID, res Reservation) (uint64, error) {
	if !res.Interval.Valid() {
		return 0, fmt.Errorf("invalid interval for case %s", res.CaseID)
	}
	rt, err := e.room(roomID)
	if err != nil {
		return 0, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, existing := range rt.reservations {
		if existing.CaseID == res.CaseID {
			if existing.Start.Equal(res.Start) && existing.End.Equal(res.End) {
				return rt.version, nil
			}
			break
		}
	}

	if overlaps := rt.overlapping(res.Interval, res.CaseID); len(overlaps) > 0 {
		return rt.version, &OverlapError{RoomID: roomID, CaseID: res.CaseID, Existing: overlaps}
	}

	rt.remove(res.CaseID)
	if res.Hold && res.HeldAt.IsZero() {
		res.HeldAt = time.Now()
	}
	rt.insert(res)
	return rt.version, nil
}

// ReserveChecked behaves like Reserve but fails with ErrVersionConflict
// when any of the rooms in expected has moved past the observed version.
// Callers use this after computing a placement from snapshots of several
// rooms, to detect that the schedule shifted under them.
func (e *Engine) ReserveChecked(roomID uuid.UUID, res Reservation, expected map[uuid.UUID]uint64) (uint64, error) {
	if err := e.checkVersions(expected); err != nil {
		return 0, err
	}
	return e.Reserve(roomID, res)
}

func (e *Engine) checkVersions(expected map[uuid.UUID]uint64) error {
	for roomID, want := range expected {
		rt, err := e.room(roomID)
		if err != nil {
			return err
		}
		rt.mu.Lock()
		got := rt.version
		rt.mu.Unlock()
		if got != want {
			return fmt.Errorf("room %s at version %d, expected %d: %w",
				roomID, got, want, ErrVersionConflict)
		}
	}
	return nil
}

// Release removes a case's reservation from a room.
func (e *Engine) Release(roomID, caseID uuid.UUID) error {
	rt, err := e.room(roomID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.remove(caseID) {
		return ErrReservationNotFound
	}
	return nil
}

// Confirm converts a hold into a committed reservation.
func (e *Engine) Confirm(roomID, caseID uuid.UUID) error {
	rt, err := e.room(roomID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.reservations {
		if rt.reservations[i].CaseID == caseID {
			if rt.reservations[i].Hold {
				rt.reservations[i].Hold = false
				rt.reservations[i].HeldAt = time.Time{}
				rt.version++
			}
			return nil
		}
	}
	return ErrReservationNotFound
}

// Exchange atomically releases the victim reservations and claims the
// incoming reservation in their place. Either every step succeeds or the
// room is left untouched. This is the commit step of a bump: the displaced
// cases leave the timeline and the add-on takes the freed window in a
// single critical section, so no concurrent scheduler can slip into the
// gap.
func (e *Engine) Exchange(roomID uuid.UUID, victims []uuid.UUID, incoming Reservation) (uint64, error) {
	if !incoming.Interval.Valid() {
		return 0, fmt.Errorf("invalid interval for case %s", incoming.CaseID)
	}
	rt, err := e.room(roomID)
	if err != nil {
		return 0, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	victimSet := make(map[uuid.UUID]struct{}, len(victims))
	for _, v := range victims {
		victimSet[v] = struct{}{}
	}
	found := 0
	for _, r := range rt.reservations {
		if _, ok := victimSet[r.CaseID]; ok {
			found++
		}
	}
	if found != len(victimSet) {
		return rt.version, fmt.Errorf("exchange in room %s: %w", roomID, ErrReservationNotFound)
	}

	// Check the incoming interval against everything that survives.
	var blocking []Reservation
	for _, r := range rt.reservations {
		if _, victim := victimSet[r.CaseID]; victim {
			continue
		}
		if r.CaseID == incoming.CaseID {
			continue
		}
		if r.Interval.Overlaps(incoming.Interval) {
			blocking = append(blocking, r)
		}
	}
	if len(blocking) > 0 {
		return rt.version, &OverlapError{RoomID: roomID, CaseID: incoming.CaseID, Existing: blocking}
	}

	kept := rt.reservations[:0]
	for _, r := range rt.reservations {
		if _, victim := victimSet[r.CaseID]; !victim {
			kept = append(kept, r)
		}
	}
	rt.reservations = kept
	rt.insert(incoming)
	return rt.version, nil
}

// Snapshot returns a copy of a room's reservations together with the
// version they were read at.
func (e *Engine) Snapshot(roomID uuid.UUID) ([]Reservation, uint64, error) {
	rt, err := e.room(roomID)
	if err != nil {
		return nil, 0, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]Reservation, len(rt.reservations))
	copy(out, rt.reservations)
	return out, rt.version, nil
}

// Rooms returns the IDs of all tracked rooms.
func (e *Engine) Rooms() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(e.rooms))
	for id := range e.rooms {
		out = append(out, id)
	}
	return out
}

// ExpiredHold identifies a hold that outlived its TTL and was removed.
type ExpiredHold struct {
	RoomID uuid.UUID
	CaseID uuid.UUID
}

// ExpireHolds removes holds older than ttl across all rooms and returns
// what was removed, so the caller can revert case state and notify.
func (e *Engine) ExpireHolds(ttl time.Duration) []ExpiredHold {
	cutoff := time.Now().Add(-ttl)

	e.mu.RLock()
	roomIDs := make([]uuid.UUID, 0, len(e.rooms))
	timelines := make([]*roomTimeline, 0, len(e.rooms))
	for id, rt := range e.rooms {
		roomIDs = append(roomIDs, id)
		timelines = append(timelines, rt)
	}
	e.mu.RUnlock()

	var expired []ExpiredHold
	for i, rt := range timelines {
		rt.mu.Lock()
		kept := rt.reservations[:0]
		for _, r := range rt.reservations {
			if r.Hold && r.HeldAt.Before(cutoff) {
				expired = append(expired, ExpiredHold{RoomID: roomIDs[i], CaseID: r.CaseID})
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) != len(rt.reservations) {
			rt.version++
		}
		rt.reservations = kept
		rt.mu.Unlock()
	}
	return expired
}

// FreeWindows returns the gaps between reservations within the given
// bounds, each at least minDuration long.
func (e *Engine) FreeWindows(roomID uuid.UUID, bounds Interval, minDuration time.Duration) ([]Interval, error) {
	reservations, _, err := e.Snapshot(roomID)
	if err != nil {
		return nil, err
	}

	var windows []Interval
	cursor := bounds.Start
	for _, r := range reservations {
		if !r.End.After(bounds.Start) || !r.Start.Before(bounds.End) {
			continue
		}
		if r.Start.After(cursor) {
			gap := Interval{Start: cursor, End: r.Start}
			if gap.Duration() >= minDuration {
				windows = append(windows, gap)
			}
		}
		if r.End.After(cursor) {
			cursor = r.End
		}
	}
	if cursor.Before(bounds.End) {
		gap := Interval{Start: cursor, End: bounds.End}
		if gap.Duration() >= minDuration {
			windows = append(windows, gap)
		}
	}
	return windows, nil
}
