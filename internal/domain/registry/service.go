package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orsched/orsched/internal/platform/timeline"
)

// ErrValidation marks input that fails domain validation. Wrap it so
// handlers can map the whole family to a 400.
var ErrValidation = errors.New("validation failed")

// ErrBlockOverlap is returned when a new or updated block collides with
// an existing block in the same room on the same weekday.
var ErrBlockOverlap = errors.New("block overlaps an existing block for this room")

const minutesPerDay = 24 * 60

// Service implements resource registry operations.
type Service struct {
	rooms     RoomRepository
	blocks    BlockRepository
	staff     StaffRepository
	equipment EquipmentRepository
	engine    *timeline.Engine
}

// NewService creates a registry service.
func NewService(rooms RoomRepository, blocks BlockRepository, staff StaffRepository,
	equipment EquipmentRepository, engine *timeline.Engine) *Service {
	return &Service{
		rooms:     rooms,
		blocks:    blocks,
		staff:     staff,
		equipment: equipment,
		engine:    engine,
	}
}

// CreateRoom validates and persists a room, then starts tracking it in
// the timeline engine.
func (s *Service) CreateRoom(ctx context.Context, room *Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	if room.Status == "" {
		room.Status = RoomAvailable
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return err
	}
	s.engine.TrackRoom(room.ID)
	log.Info().Str("room_id", room.ID.String()).Str("name", room.Name).Msg("room created")
	return nil
}

func validateRoom(room *Room) error {
	if room.Name == "" {
		return fmt.Errorf("room name is required: %w", ErrValidation)
	}
	if room.TurnoverMinutes < 0 {
		return fmt.Errorf("turnover minutes cannot be negative: %w", ErrValidation)
	}
	if room.OpensAt < 0 || room.ClosesAt > minutesPerDay || room.OpensAt >= room.ClosesAt {
		return fmt.Errorf("room hours must satisfy 0 <= opens_at < closes_at <= 1440: %w", ErrValidation)
	}
	switch room.Status {
	case "", RoomAvailable, RoomMaintenance, RoomClosed:
	default:
		return fmt.Errorf("unknown room status %q: %w", room.Status, ErrValidation)
	}
	return nil
}

// GetRoom fetches a room by ID.
func (s *Service) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.rooms.GetByID(ctx, id)
}

// ListRooms returns a page of rooms.
func (s *Service) ListRooms(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	return s.rooms.List(ctx, limit, offset)
}

// UpdateRoom validates and persists room changes.
func (s *Service) UpdateRoom(ctx context.Context, room *Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	return s.rooms.Update(ctx, room)
}

// DeleteRoom removes a room from the registry and the timeline engine.
// It refuses rooms that still hold reservations.
func (s *Service) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	reservations, _, err := s.engine.Snapshot(id)
	if err == nil && len(reservations) > 0 {
		return fmt.Errorf("room has %d active reservations: %w", len(reservations), ErrValidation)
	}
	if err := s.rooms.Delete(ctx, id); err != nil {
		return err
	}
	s.engine.UntrackRoom(id)
	return nil
}

// CreateBlock validates a block against its room and the no-overlap
// invariant, then persists it.
func (s *Service) CreateBlock(ctx context.Context, block *Block) error {
	if err := s.validateBlock(ctx, block); err != nil {
		return err
	}
	return s.blocks.Create(ctx, block)
}

func (s *Service) validateBlock(ctx context.Context, block *Block) error {
	if block.ServiceLine == "" && block.SurgeonID == nil {
		return fmt.Errorf("block needs a service line or a surgeon owner: %w", ErrValidation)
	}
	if block.Weekday < time.Sunday || block.Weekday > time.Saturday {
		return fmt.Errorf("invalid weekday: %w", ErrValidation)
	}
	if block.StartMinute < 0 || block.EndMinute > minutesPerDay || block.StartMinute >= block.EndMinute {
		return fmt.Errorf("block window must satisfy 0 <= start < end <= 1440: %w", ErrValidation)
	}
	if block.ReleaseLeadHours < 0 {
		return fmt.Errorf("release lead hours cannot be negative: %w", ErrValidation)
	}
	if block.UtilizationTarget < 0 || block.UtilizationTarget > 1 {
		return fmt.Errorf("utilization target must be in [0,1]: %w", ErrValidation)
	}
	if block.EffectiveFrom.IsZero() {
		return fmt.Errorf("effective_from is required: %w", ErrValidation)
	}
	if block.ExpiresAt != nil && !block.ExpiresAt.After(block.EffectiveFrom) {
		return fmt.Errorf("expires_at must be after effective_from: %w", ErrValidation)
	}

	room, err := s.rooms.GetByID(ctx, block.RoomID)
	if err != nil {
		return err
	}
	if block.StartMinute < room.OpensAt || block.EndMinute > room.ClosesAt {
		return fmt.Errorf("block window falls outside room hours: %w", ErrValidation)
	}

	existing, err := s.blocks.ListByRoom(ctx, block.RoomID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == block.ID || other.Weekday != block.Weekday {
			continue
		}
		if block.StartMinute < other.EndMinute && other.StartMinute < block.EndMinute {
			return fmt.Errorf("block %s occupies %d-%d: %w",
				other.ID, other.StartMinute, other.EndMinute, ErrBlockOverlap)
		}
	}
	return nil
}

// GetBlock fetches a block by ID.
func (s *Service) GetBlock(ctx context.Context, id uuid.UUID) (*Block, error) {
	return s.blocks.GetByID(ctx, id)
}

// ListBlocksByRoom returns every block configured for a room.
func (s *Service) ListBlocksByRoom(ctx context.Context, roomID uuid.UUID) ([]*Block, error) {
	return s.blocks.ListByRoom(ctx, roomID)
}

// ListBlocksForDate returns every block active on a date.
func (s *Service) ListBlocksForDate(ctx context.Context, date time.Time) ([]*Block, error) {
	blocks, err := s.blocks.ListForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	active := blocks[:0]
	for _, b := range blocks {
		if b.ActiveOn(date) {
			active = append(active, b)
		}
	}
	return active, nil
}

// UpdateBlock validates and persists block changes.
func (s *Service) UpdateBlock(ctx context.Context, block *Block) error {
	if err := s.validateBlock(ctx, block); err != nil {
		return err
	}
	return s.blocks.Update(ctx, block)
}

// DeleteBlock removes a block.
func (s *Service) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	return s.blocks.Delete(ctx, id)
}

// CreateStaff validates and persists a staff member.
func (s *Service) CreateStaff(ctx context.Context, staff *Staff) error {
	if staff.Name == "" {
		return fmt.Errorf("staff name is required: %w", ErrValidation)
	}
	switch staff.Role {
	case RoleSurgeon, RoleAnesthesiologist, RoleNurse, RoleTech:
	default:
		return fmt.Errorf("unknown staff role %q: %w", staff.Role, ErrValidation)
	}
	staff.Active = true
	return s.staff.Create(ctx, staff)
}

// GetStaff fetches a staff member by ID.
func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.staff.GetByID(ctx, id)
}

// ListStaff returns a page of staff, optionally filtered by role.
func (s *Service) ListStaff(ctx context.Context, role StaffRole, limit, offset int) ([]*Staff, int, error) {
	return s.staff.List(ctx, role, limit, offset)
}

// UpdateStaff persists staff changes.
func (s *Service) UpdateStaff(ctx context.Context, staff *Staff) error {
	if staff.Name == "" {
		return fmt.Errorf("staff name is required: %w", ErrValidation)
	}
	return s.staff.Update(ctx, staff)
}

// DeleteStaff removes a staff member.
func (s *Service) DeleteStaff(ctx context.Context, id uuid.UUID) error {
	return s.staff.Delete(ctx, id)
}

// CreateEquipment validates and persists an equipment record.
func (s *Service) CreateEquipment(ctx context.Context, eq *Equipment) error {
	if eq.Name == "" {
		return fmt.Errorf("equipment name is required: %w", ErrValidation)
	}
	if eq.Quantity < 1 {
		return fmt.Errorf("equipment quantity must be at least 1: %w", ErrValidation)
	}
	return s.equipment.Create(ctx, eq)
}

// GetEquipment fetches equipment by ID.
func (s *Service) GetEquipment(ctx context.Context, id uuid.UUID) (*Equipment, error) {
	return s.equipment.GetByID(ctx, id)
}

// ListEquipment returns a page of equipment.
func (s *Service) ListEquipment(ctx context.Context, limit, offset int) ([]*Equipment, int, error) {
	return s.equipment.List(ctx, limit, offset)
}

// UpdateEquipment persists equipment changes.
func (s *Service) UpdateEquipment(ctx context.Context, eq *Equipment) error {
	if eq.Quantity < 1 {
		return fmt.Errorf("equipment quantity must be at least 1: %w", ErrValidation)
	}
	return s.equipment.Update(ctx, eq)
}

// DeleteEquipment removes an equipment record.
func (s *Service) DeleteEquipment(ctx context.Context, id uuid.UUID) error {
	return s.equipment.Delete(ctx, id)
}

// RoomAvailability is the free/busy picture of one room on one date.
type RoomAvailability struct {
	RoomID       uuid.UUID              `json:"room_id"`
	Date         string                 `json:"date"`
	Reservations []timeline.Reservation `json:"reservations"`
	FreeWindows  []timeline.Interval    `json:"free_windows"`
	Version      uint64                 `json:"version"`
}

// GetRoomAvailability returns a room's reservations and remaining free
// windows within its operating hours on the given date.
func (s *Service) GetRoomAvailability(ctx context.Context, roomID uuid.UUID, date time.Time) (*RoomAvailability, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	open, close := room.DayBounds(date)
	reservations, version, err := s.engine.Snapshot(roomID)
	if err != nil {
		return nil, err
	}

	var dayReservations []timeline.Reservation
	for _, r := range reservations {
		if r.Start.Before(close) && r.End.After(open) {
			dayReservations = append(dayReservations, r)
		}
	}

	windows, err := s.engine.FreeWindows(roomID, timeline.Interval{Start: open, End: close}, 0)
	if err != nil {
		return nil, err
	}

	return &RoomAvailability{
		RoomID:       roomID,
		Date:         date.Format("2006-01-02"),
		Reservations: dayReservations,
		FreeWindows:  windows,
		Version:      version,
	}, nil
}
