package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Filters narrows an audit listing. Zero values mean "no filter".
type Filters struct {
	ActorID  string
	Entity   string
	Action   string
	Level    string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Repository defines the persistence surface the service needs.
type Repository interface {
	Window(ctx context.Context, f Filters, offset, limit int) ([]Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, keepErrors bool) (int64, error)
	CountByLevel(ctx context.Context, since time.Time) (map[string]int64, error)
}

// PGRepository implements Repository over the system_logs table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window returns one page of events, newest first.
func (r *PGRepository) Window(ctx context.Context, f Filters, offset, limit int) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, clause+"$"+strconv.Itoa(len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = ", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = ", f.Entity)
	}
	if f.Action != "" {
		add("action = ", f.Action)
	}
	if f.Level != "" {
		add("level = ", f.Level)
	}
	if !f.From.IsZero() {
		add("occurred_at >= ", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= ", f.To)
	}
	query := `SELECT id, level, message, action, entity, COALESCE(entity_id, ''), COALESCE(actor_id, ''), COALESCE(actor_ip, ''), COALESCE(actor_agent, ''), meta, occurred_at FROM system_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec  Record
			meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Level, &rec.Message, &rec.Action, &rec.Entity,
			&rec.EntityID, &rec.ActorID, &rec.ActorIP, &rec.ActorAgent, &meta, &rec.At); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &rec.Meta)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes events past the retention cutoff. With keepErrors
// set, error-level events are exempt from the sweep.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, keepErrors bool) (int64, error) {
	query := `DELETE FROM system_logs WHERE occurred_at < $1`
	if keepErrors {
		query += ` AND level <> 'error'`
	}
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByLevel aggregates event counts per level since the given time.
func (r *PGRepository) CountByLevel(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT level, COUNT(*) FROM system_logs WHERE occurred_at >= $1 GROUP BY level`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var (
			level string
			n     int64
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[level] = n
	}
	return counts, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
