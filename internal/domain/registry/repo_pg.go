package registry

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

// PgRoomRepository is the Postgres room repository.
type PgRoomRepository struct {
	pool *pgxpool.Pool
}

// NewPgRoomRepository creates a Postgres-backed room repository.
func NewPgRoomRepository(pool *pgxpool.Pool) *PgRoomRepository {
	return &PgRoomRepository{pool: pool}
}

func (r *PgRoomRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PgRoomRepository) Create(ctx context.Context, room *Room) error {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	now := time.Now()
	room.CreatedAt = now
	room.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO rooms (id, name, attributes, turnover_minutes, opens_at, closes_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		room.ID, room.Name, room.Attributes, room.TurnoverMinutes,
		room.OpensAt, room.ClosesAt, room.Status, room.CreatedAt, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (r *PgRoomRepository) GetByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	room := &Room{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, attributes, turnover_minutes, opens_at, closes_at, status, created_at, updated_at
		FROM rooms WHERE id = $1`, id).
		Scan(&room.ID, &room.Name, &room.Attributes, &room.TurnoverMinutes,
			&room.OpensAt, &room.ClosesAt, &room.Status, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (r *PgRoomRepository) List(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rooms: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, attributes, turnover_minutes, opens_at, closes_at, status, created_at, updated_at
		FROM rooms ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room := &Room{}
		if err := rows.Scan(&room.ID, &room.Name, &room.Attributes, &room.TurnoverMinutes,
			&room.OpensAt, &room.ClosesAt, &room.Status, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, total, rows.Err()
}

func (r *PgRoomRepository) Update(ctx context.Context, room *Room) error {
	room.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE rooms SET name = $2, attributes = $3, turnover_minutes = $4,
			opens_at = $5, closes_at = $6, status = $7, updated_at = $8
		WHERE id = $1`,
		room.ID, room.Name, room.Attributes, room.TurnoverMinutes,
		room.OpensAt, room.ClosesAt, room.Status, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRoomRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PgBlockRepository is the Postgres block repository.
type PgBlockRepository struct {
	pool *pgxpool.Pool
}

// NewPgBlockRepository creates a Postgres-backed block repository.
func NewPgBlockRepository(pool *pgxpool.Pool) *PgBlockRepository {
	return &PgBlockRepository{pool: pool}
}

func (r *PgBlockRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const blockColumns = `id, room_id, service_line, surgeon_id, weekday, start_minute, end_minute,
	release_lead_hours, utilization_target, allow_add_ons, effective_from, expires_at, created_at`

func scanBlock(row pgx.Row) (*Block, error) {
	b := &Block{}
	var weekday int
	err := row.Scan(&b.ID, &b.RoomID, &b.ServiceLine, &b.SurgeonID, &weekday,
		&b.StartMinute, &b.EndMinute, &b.ReleaseLeadHours, &b.UtilizationTarget,
		&b.AllowAddOns, &b.EffectiveFrom, &b.ExpiresAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Weekday = time.Weekday(weekday)
	return b, nil
}

func (r *PgBlockRepository) Create(ctx context.Context, block *Block) error {
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	block.CreatedAt = time.Now()

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blocks (`+blockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		block.ID, block.RoomID, block.ServiceLine, block.SurgeonID, int(block.Weekday),
		block.StartMinute, block.EndMinute, block.ReleaseLeadHours, block.UtilizationTarget,
		block.AllowAddOns, block.EffectiveFrom, block.ExpiresAt, block.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func (r *PgBlockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Block, error) {
	b, err := scanBlock(r.conn(ctx).QueryRow(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get block: %w", err)
	}
	return b, nil
}

func (r *PgBlockRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*Block, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE room_id = $1 ORDER BY weekday, start_minute`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

func (r *PgBlockRepository) ListForDate(ctx context.Context, date time.Time) ([]*Block, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+blockColumns+` FROM blocks
		WHERE weekday = $1 AND effective_from <= $2 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY room_id, start_minute`,
		int(date.Weekday()), date)
	if err != nil {
		return nil, fmt.Errorf("list blocks for date: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

func collectBlocks(rows pgx.Rows) ([]*Block, error) {
	var blocks []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (r *PgBlockRepository) Update(ctx context.Context, block *Block) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE blocks SET room_id = $2, service_line = $3, surgeon_id = $4, weekday = $5,
			start_minute = $6, end_minute = $7, release_lead_hours = $8,
			utilization_target = $9, allow_add_ons = $10, effective_from = $11, expires_at = $12
		WHERE id = $1`,
		block.ID, block.RoomID, block.ServiceLine, block.SurgeonID, int(block.Weekday),
		block.StartMinute, block.EndMinute, block.ReleaseLeadHours,
		block.UtilizationTarget, block.AllowAddOns, block.EffectiveFrom, block.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgBlockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PgStaffRepository is the Postgres staff repository.
type PgStaffRepository struct {
	pool *pgxpool.Pool
}

// NewPgStaffRepository creates a Postgres-backed staff repository.
func NewPgStaffRepository(pool *pgxpool.Pool) *PgStaffRepository {
	return &PgStaffRepository{pool: pool}
}

func (r *PgStaffRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PgStaffRepository) Create(ctx context.Context, staff *Staff) error {
	if staff.ID == uuid.Nil {
		staff.ID = uuid.New()
	}
	now := time.Now()
	staff.CreatedAt = now
	staff.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO staff (id, name, role, specialties, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		staff.ID, staff.Name, staff.Role, staff.Specialties, staff.Active,
		staff.CreatedAt, staff.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert staff: %w", err)
	}
	return nil
}

func (r *PgStaffRepository) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	s := &Staff{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, role, specialties, active, created_at, updated_at
		FROM staff WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Role, &s.Specialties, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get staff: %w", err)
	}
	return s, nil
}

func (r *PgStaffRepository) List(ctx context.Context, role StaffRole, limit, offset int) ([]*Staff, int, error) {
	where := ""
	args := []any{limit, offset}
	if role != "" {
		where = " WHERE role = $3"
		args = append(args, role)
	}

	var total int
	countArgs := args[2:]
	countWhere := ""
	if role != "" {
		countWhere = " WHERE role = $1"
	}
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff`+countWhere, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count staff: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, role, specialties, active, created_at, updated_at
		FROM staff`+where+` ORDER BY name LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var out []*Staff
	for rows.Next() {
		s := &Staff{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Role, &s.Specialties, &s.Active,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan staff: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *PgStaffRepository) Update(ctx context.Context, staff *Staff) error {
	staff.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE staff SET name = $2, role = $3, specialties = $4, active = $5, updated_at = $6
		WHERE id = $1`,
		staff.ID, staff.Name, staff.Role, staff.Specialties, staff.Active, staff.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update staff: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgStaffRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM staff WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete staff: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PgEquipmentRepository is the Postgres equipment repository.
type PgEquipmentRepository struct {
	pool *pgxpool.Pool
}

// NewPgEquipmentRepository creates a Postgres-backed equipment repository.
func NewPgEquipmentRepository(pool *pgxpool.Pool) *PgEquipmentRepository {
	return &PgEquipmentRepository{pool: pool}
}

func (r *PgEquipmentRepository) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PgEquipmentRepository) Create(ctx context.Context, eq *Equipment) error {
	if eq.ID == uuid.Nil {
		eq.ID = uuid.New()
	}
	now := time.Now()
	eq.CreatedAt = now
	eq.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO equipment (id, name, kind, shareable, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		eq.ID, eq.Name, eq.Kind, eq.Shareable, eq.Quantity, eq.CreatedAt, eq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert equipment: %w", err)
	}
	return nil
}

func (r *PgEquipmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Equipment, error) {
	eq := &Equipment{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, kind, shareable, quantity, created_at, updated_at
		FROM equipment WHERE id = $1`, id).
		Scan(&eq.ID, &eq.Name, &eq.Kind, &eq.Shareable, &eq.Quantity, &eq.CreatedAt, &eq.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get equipment: %w", err)
	}
	return eq, nil
}

func (r *PgEquipmentRepository) List(ctx context.Context, limit, offset int) ([]*Equipment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM equipment`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count equipment: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, kind, shareable, quantity, created_at, updated_at
		FROM equipment ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list equipment: %w", err)
	}
	defer rows.Close()

	var out []*Equipment
	for rows.Next() {
		eq := &Equipment{}
		if err := rows.Scan(&eq.ID, &eq.Name, &eq.Kind, &eq.Shareable, &eq.Quantity,
			&eq.CreatedAt, &eq.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan equipment: %w", err)
		}
		out = append(out, eq)
	}
	return out, total, rows.Err()
}

func (r *PgEquipmentRepository) Update(ctx context.Context, eq *Equipment) error {
	eq.UpdatedAt = time.Now()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE equipment SET name = $2, kind = $3, shareable = $4, quantity = $5, updated_at = $6
		WHERE id = $1`,
		eq.ID, eq.Name, eq.Kind, eq.Shareable, eq.Quantity, eq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update equipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgEquipmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM equipment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete equipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
