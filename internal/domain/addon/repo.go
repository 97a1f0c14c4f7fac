package addon

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a bump record does not exist.
var ErrNotFound = errors.New("bump record not found")

// BumpRepository persists bump records.
type BumpRepository interface {
	Create(ctx context.Context, record *BumpRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*BumpRecord, error)
	Update(ctx context.Context, record *BumpRecord) error
	ListPending(ctx context.Context) ([]*BumpRecord, error)
	// CountCommittedForRoom counts committed bumps whose freed window
	// falls inside [from, to) for the room.
	CountCommittedForRoom(ctx context.Context, roomID uuid.UUID, from, to time.Time) (int, error)
}
