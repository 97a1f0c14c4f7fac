package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// PgRepository is the Postgres case repository.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a Postgres-backed case repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const caseColumns = `id, patient_ref, procedure_code, surgeon_id, service_line, priority,
	indication, asa_class, age_years, bmi, prior_surgeries, comorbidities,
	required_attributes, equipment_ids, staff_ids,
	estimated_minutes, room_id, scheduled_start, scheduled_end, status, created_at, updated_at`

func scanCase(row pgx.Row) (*SurgicalCase, error) {
	c := &SurgicalCase{}
	err := row.Scan(&c.ID, &c.PatientRef, &c.ProcedureCode, &c.SurgeonID, &c.ServiceLine,
		&c.Priority, &c.Indication, &c.ASAClass, &c.AgeYears, &c.BMI, &c.PriorSurgeries,
		&c.Comorbidities, &c.RequiredAttributes, &c.EquipmentIDs,
		&c.StaffIDs, &c.EstimatedMinutes, &c.RoomID, &c.ScheduledStart, &c.ScheduledEnd,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PgRepository) Create(ctx context.Context, c *SurgicalCase) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		c.ID, c.PatientRef, c.ProcedureCode, c.SurgeonID, c.ServiceLine, c.Priority,
		c.Indication, c.ASAClass, c.AgeYears, c.BMI, c.PriorSurgeries,
		c.Comorbidities, c.RequiredAttributes, c.EquipmentIDs, c.StaffIDs,
		c.EstimatedMinutes, c.RoomID, c.ScheduledStart, c.ScheduledEnd, c.Status,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*SurgicalCase, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]*SurgicalCase, int, error) {
	var conds []string
	var args []any

	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.SurgeonID != uuid.Nil {
		add("surgeon_id = $%d", filter.SurgeonID)
	}
	if filter.RoomID != uuid.Nil {
		add("room_id = $%d", filter.RoomID)
	}
	if filter.Date != nil {
		dayStart := time.Date(filter.Date.Year(), filter.Date.Month(), filter.Date.Day(),
			0, 0, 0, 0, filter.Date.Location())
		add("scheduled_start >= $%d", dayStart)
		add("scheduled_start < $%d", dayStart.AddDate(0, 0, 1))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM cases%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		caseColumns, where, len(args)-1, len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []*SurgicalCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *PgRepository) Update(ctx context.Context, c *SurgicalCase) error {
	c.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE cases SET patient_ref = $2, procedure_code = $3, surgeon_id = $4,
			service_line = $5, priority = $6, indication = $7, asa_class = $8,
			age_years = $9, bmi = $10, prior_surgeries = $11, comorbidities = $12,
			required_attributes = $13, equipment_ids = $14, staff_ids = $15,
			estimated_minutes = $16, room_id = $17, scheduled_start = $18,
			scheduled_end = $19, status = $20, updated_at = $21
		WHERE id = $1`,
		c.ID, c.PatientRef, c.ProcedureCode, c.SurgeonID, c.ServiceLine, c.Priority,
		c.Indication, c.ASAClass, c.AgeYears, c.BMI, c.PriorSurgeries,
		c.Comorbidities, c.RequiredAttributes, c.EquipmentIDs, c.StaffIDs,
		c.EstimatedMinutes, c.RoomID, c.ScheduledStart, c.ScheduledEnd, c.Status, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) AppendEvent(ctx context.Context, event *StatusEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO case_status_events (id, case_id, from_status, to_status, reason, actor, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.CaseID, event.From, event.To, event.Reason, event.Actor, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

func (r *PgRepository) ListEvents(ctx context.Context, caseID uuid.UUID) ([]*StatusEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, case_id, from_status, to_status, reason, actor, occurred_at
		FROM case_status_events WHERE case_id = $1 ORDER BY occurred_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	defer rows.Close()

	var events []*StatusEvent
	for rows.Next() {
		e := &StatusEvent{}
		if err := rows.Scan(&e.ID, &e.CaseID, &e.From, &e.To, &e.Reason, &e.Actor, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
