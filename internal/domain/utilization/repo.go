package utilization

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TurnoverRepository persists measured turnovers.
type TurnoverRepository interface {
	Create(ctx context.Context, instance *TurnoverInstance) error
	ListByRoom(ctx context.Context, roomID uuid.UUID, from, to time.Time) ([]*TurnoverInstance, error)
}
