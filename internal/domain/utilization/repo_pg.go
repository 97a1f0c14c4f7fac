package utilization

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

// PgTurnoverRepository is the Postgres turnover repository.
type PgTurnoverRepository struct {
	pool *pgxpool.Pool
}

// NewPgTurnoverRepository creates a Postgres-backed turnover repository.
func NewPgTurnoverRepository(pool *pgxpool.Pool) *PgTurnoverRepository {
	return &PgTurnoverRepository{pool: pool}
}

func (r *PgTurnoverRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PgTurnoverRepository) Create(ctx context.Context, instance *TurnoverInstance) error {
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO turnover_instances (id, room_id, from_case_id, to_case_id, started_at, ended_at, minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		instance.ID, instance.RoomID, instance.FromCaseID, instance.ToCaseID,
		instance.StartedAt, instance.EndedAt, instance.Minutes)
	if err != nil {
		return fmt.Errorf("insert turnover: %w", err)
	}
	return nil
}

func (r *PgTurnoverRepository) ListByRoom(ctx context.Context, roomID uuid.UUID, from, to time.Time) ([]*TurnoverInstance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, room_id, from_case_id, to_case_id, started_at, ended_at, minutes
		FROM turnover_instances
		WHERE room_id = $1 AND started_at >= $2 AND started_at < $3
		ORDER BY started_at`, roomID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list turnovers: %w", err)
	}
	defer rows.Close()

	var out []*TurnoverInstance
	for rows.Next() {
		ti := &TurnoverInstance{}
		if err := rows.Scan(&ti.ID, &ti.RoomID, &ti.FromCaseID, &ti.ToCaseID,
			&ti.StartedAt, &ti.EndedAt, &ti.Minutes); err != nil {
			return nil, fmt.Errorf("scan turnover: %w", err)
		}
		out = append(out, ti)
	}
	return out, rows.Err()
}
