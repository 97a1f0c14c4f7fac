package addon

import (
	"context"
	"errors"
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

// PgBumpRepository is the Postgres bump record repository.
type PgBumpRepository struct {
	pool *pgxpool.Pool
}

// NewPgBumpRepository creates a Postgres-backed bump repository.
func NewPgBumpRepository(pool *pgxpool.Pool) *PgBumpRepository {
	return &PgBumpRepository{pool: pool}
}

func (r *PgBumpRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const bumpColumns = `id, addon_case_id, victim_case_ids, room_id, start_at, end_at,
	status, urgency_score, reason, requested_by, decided_by, created_at, decided_at`

func scanBump(row pgx.Row) (*BumpRecord, error) {
	b := &BumpRecord{}
	err := row.Scan(&b.ID, &b.AddOnCaseID, &b.VictimCaseIDs, &b.RoomID, &b.Start, &b.End,
		&b.Status, &b.UrgencyScore, &b.Reason, &b.RequestedBy, &b.DecidedBy, &b.CreatedAt, &b.DecidedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *PgBumpRepository) Create(ctx context.Context, record *BumpRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now()

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bump_records (`+bumpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.AddOnCaseID, record.VictimCaseIDs, record.RoomID,
		record.Start, record.End, record.Status, record.UrgencyScore, record.Reason,
		record.RequestedBy, record.DecidedBy, record.CreatedAt, record.DecidedAt)
	if err != nil {
		return fmt.Errorf("insert bump record: %w", err)
	}
	return nil
}

func (r *PgBumpRepository) GetByID(ctx context.Context, id uuid.UUID) (*BumpRecord, error) {
	b, err := scanBump(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bumpColumns+` FROM bump_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bump record: %w", err)
	}
	return b, nil
}

func (r *PgBumpRepository) Update(ctx context.Context, record *BumpRecord) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bump_records SET status = $2, reason = $3, decided_by = $4, decided_at = $5
		WHERE id = $1`,
		record.ID, record.Status, record.Reason, record.DecidedBy, record.DecidedAt)
	if err != nil {
		return fmt.Errorf("update bump record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgBumpRepository) ListPending(ctx context.Context) ([]*BumpRecord, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bumpColumns+` FROM bump_records WHERE status = $1 ORDER BY created_at`, BumpPending)
	if err != nil {
		return nil, fmt.Errorf("list pending bumps: %w", err)
	}
	defer rows.Close()

	var out []*BumpRecord
	for rows.Next() {
		b, err := scanBump(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bump record: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PgBumpRepository) CountCommittedForRoom(ctx context.Context, roomID uuid.UUID, from, to time.Time) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM bump_records
		WHERE status = $1 AND room_id = $2 AND start_at >= $3 AND start_at < $4`,
		BumpCommitted, roomID, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bumps for room: %w", err)
	}
	return count, nil
}
