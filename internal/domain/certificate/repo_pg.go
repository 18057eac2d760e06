package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mccd/mccd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type certificateRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &certificateRepoPG{pool: pool}
}

func (r *certificateRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

var certificateCols = strings.Join(selectColumns, ", ")

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

func (r *certificateRepoPG) Insert(ctx context.Context, p InsertParams) error {
	cols, vals := insertColumns(p)
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO `+certificateTable+` (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders(1, len(vals))+`)`,
		vals...)
	return err
}

func (r *certificateRepoPG) Update(ctx context.Context, p UpdateParams) error {
	expires := WindowExpiry(p.Now)
	args := []any{p.ID, p.OwnerID, p.Now, string(p.Status), p.Serial, expires}
	sets := []string{
		`status = CASE WHEN status = 'submitted' THEN 'submitted' ELSE $4 END`,
		`submitted_at = CASE WHEN $4 = 'submitted' THEN COALESCE(submitted_at, $3) ELSE submitted_at END`,
		`edit_window_expires_at = CASE WHEN $4 = 'submitted' THEN COALESCE(edit_window_expires_at, $6) ELSE edit_window_expires_at END`,
		`serial_number = CASE WHEN $5 <> '' AND serial_number LIKE 'DRAFT-%' THEN $5 ELSE serial_number END`,
		`updated_at = $3`,
	}
	for _, k := range p.Content.Keys() {
		if !IsColumn(k) {
			continue
		}
		args = append(args, p.Content[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+certificateTable+` SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND created_by_id = $2
		  AND (status = 'draft' OR edit_window_expires_at > $3)`,
		args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLocked
	}
	return nil
}

func (r *certificateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+certificateCols+` FROM `+certificateTable+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return certificateFromColumns(m)
}

func (r *certificateRepoPG) List(ctx context.Context, f ListFilter) ([]*Certificate, int, error) {
	where := []string{"TRUE"}
	var args []any
	if f.CreatedBy != nil {
		args = append(args, *f.CreatedBy)
		where = append(where, fmt.Sprintf("created_by_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+certificateTable+` WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			certificateCols, certificateTable, cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*Certificate, 0, len(maps))
	for _, m := range maps {
		c, err := certificateFromColumns(m)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *certificateRepoPG) NextSerial(ctx context.Context, regionCode, facilityCode string) (string, error) {
	var serial string
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT generate_certificate_serial_number($1, $2)`, regionCode, facilityCode).Scan(&serial)
	return serial, err
}

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) conn(ctx context.Context) queryable {
	return connFor(ctx, r.pool)
}

const auditCols = `id, certificate_id, user_id, action, changes, ip_address, user_agent, created_at`

func (r *auditRepoPG) scanEntry(row pgx.Row) (*AuditEntry, error) {
	var (
		e         AuditEntry
		changes   []byte
		ip, agent *string
	)
	if err := row.Scan(&e.ID, &e.CertificateID, &e.UserID, &e.Action, &changes, &ip, &agent, &e.CreatedAt); err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("decode audit changes: %w", err)
		}
	}
	if ip != nil {
		e.IPAddress = *ip
	}
	if agent != nil {
		e.UserAgent = *agent
	}
	return &e, nil
}

func (r *auditRepoPG) Append(ctx context.Context, e *AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var changes []byte
	if e.Changes != nil {
		var err error
		if changes, err = json.Marshal(e.Changes); err != nil {
			return fmt.Errorf("encode audit changes: %w", err)
		}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO `+auditTable+` (id, certificate_id, user_id, action, changes, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		RETURNING created_at`,
		e.ID, e.CertificateID, e.UserID, e.Action, changes, e.IPAddress, e.UserAgent).Scan(&e.CreatedAt)
}

func (r *auditRepoPG) ListByCertificate(ctx context.Context, certificateID uuid.UUID) ([]*AuditEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+auditCols+` FROM `+auditTable+` WHERE certificate_id = $1 ORDER BY created_at`, certificateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AuditEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
