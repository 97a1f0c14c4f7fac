package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orsched/orsched/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgHistoryRepository is the Postgres duration history repository.
type PgHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewPgHistoryRepository creates a Postgres-backed history repository.
func NewPgHistoryRepository(pool *pgxpool.Pool) *PgHistoryRepository {
	return &PgHistoryRepository{pool: pool}
}

func (r *PgHistoryRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PgHistoryRepository) Record(ctx context.Context, obs *Observation) error {
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	if obs.OccurredAt.IsZero() {
		obs.OccurredAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO duration_observations (id, case_id, procedure_code, surgeon_id, actual_minutes, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		obs.ID, obs.CaseID, obs.ProcedureCode, obs.SurgeonID, obs.ActualMinutes, obs.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (r *PgHistoryRepository) StatsForProcedure(ctx context.Context, procedureCode string) (*Stats, error) {
	return r.stats(ctx, `
		SELECT COUNT(*), COALESCE(AVG(actual_minutes), 0), COALESCE(STDDEV_SAMP(actual_minutes), 0)
		FROM duration_observations WHERE procedure_code = $1`, procedureCode)
}

func (r *PgHistoryRepository) StatsForSurgeon(ctx context.Context, procedureCode string, surgeonID uuid.UUID) (*Stats, error) {
	return r.stats(ctx, `
		SELECT COUNT(*), COALESCE(AVG(actual_minutes), 0), COALESCE(STDDEV_SAMP(actual_minutes), 0)
		FROM duration_observations WHERE procedure_code = $1 AND surgeon_id = $2`, procedureCode, surgeonID)
}

func (r *PgHistoryRepository) stats(ctx context.Context, query string, args ...any) (*Stats, error) {
	s := &Stats{}
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&s.Count, &s.MeanMinutes, &s.StdDev); err != nil {
		return nil, fmt.Errorf("aggregate durations: %w", err)
	}
	if s.Count == 0 {
		return nil, ErrNoHistory
	}
	return s, nil
}
