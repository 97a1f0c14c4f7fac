package prediction

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNoHistory is returned when no observations exist for a query.
var ErrNoHistory = errors.New("no duration history")

// HistoryRepository stores and aggregates observed case durations.
type HistoryRepository interface {
	Record(ctx context.Context, obs *Observation) error
	StatsForProcedure(ctx context.Context, procedureCode string) (*Stats, error)
	StatsForSurgeon(ctx context.Context, procedureCode string, surgeonID uuid.UUID) (*Stats, error)
}
