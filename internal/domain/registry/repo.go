package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a registry entity does not exist.
var ErrNotFound = errors.New("registry entity not found")

// RoomRepository persists operating rooms.
type RoomRepository interface {
	Create(ctx context.Context, room *Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*Room, error)
	List(ctx context.Context, limit, offset int) ([]*Room, int, error)
	Update(ctx context.Context, room *Room) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// BlockRepository persists block-time allocations.
type BlockRepository interface {
	Create(ctx context.Context, block *Block) error
	GetByID(ctx context.Context, id uuid.UUID) (*Block, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*Block, error)
	ListForDate(ctx context.Context, date time.Time) ([]*Block, error)
	Update(ctx context.Context, block *Block) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// StaffRepository persists schedulable personnel.
type StaffRepository interface {
	Create(ctx context.Context, staff *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	List(ctx context.Context, role StaffRole, limit, offset int) ([]*Staff, int, error)
	Update(ctx context.Context, staff *Staff) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// EquipmentRepository persists movable equipment.
type EquipmentRepository interface {
	Create(ctx context.Context, eq *Equipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Equipment, error)
	List(ctx context.Context, limit, offset int) ([]*Equipment, int, error)
	Update(ctx context.Context, eq *Equipment) error
	Delete(ctx context.Context, id uuid.UUID) error
}
