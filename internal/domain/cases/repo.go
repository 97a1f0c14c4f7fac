package cases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a case does not exist.
var ErrNotFound = errors.New("case not found")

// ListFilter narrows a case listing.
type ListFilter struct {
	Status    Status
	SurgeonID uuid.UUID
	RoomID    uuid.UUID
	Date      *time.Time // scheduled on this calendar day
	Limit     int
	Offset    int
}

// Repository persists surgical cases and their status history.
type Repository interface {
	Create(ctx context.Context, c *SurgicalCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*SurgicalCase, error)
	List(ctx context.Context, filter ListFilter) ([]*SurgicalCase, int, error)
	Update(ctx context.Context, c *SurgicalCase) error
	AppendEvent(ctx context.Context, event *StatusEvent) error
	ListEvents(ctx context.Context, caseID uuid.UUID) ([]*StatusEvent, error)
}
