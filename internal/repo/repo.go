package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"coachline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

// IsUniqueViolation reports whether err is a SQLite unique/primary-key constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (r Repo) EnsureCoach(ctx context.Context, tx *sql.Tx, c domain.Coach) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO coaches(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, c.ID, c.Name, c.CreatedAt)
	return err
}

func (r Repo) GetCoach(ctx context.Context, id string) (domain.Coach, error) {
	var c domain.Coach
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM coaches WHERE id=?`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

// EnsureCustomer inserts a customer or refreshes its name. Stage columns are never touched here.
func (r Repo) EnsureCustomer(ctx context.Context, tx *sql.Tx, c domain.Customer) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO customers(id,coach_id,name,metadata_json,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, c.ID, c.CoachID, c.Name, nullable(c.MetadataJSON), c.CreatedAt)
	return err
}

const customerColumns = `id,coach_id,name,COALESCE(metadata_json,''),COALESCE(coach_stage,''),COALESCE(coach_stage_updated_at,''),stage_version,created_at`

func scanCustomer(row interface{ Scan(...any) error }) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.CoachID, &c.Name, &c.MetadataJSON, &c.CoachStage, &c.CoachStageUpdatedAt, &c.StageVersion, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return scanCustomer(r.DB.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=?`, id))
}

func (r Repo) ListCustomersByCoach(ctx context.Context, coachID string) ([]domain.Customer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE coach_id=? ORDER BY created_at, id`, coachID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CustomerOwnedBy reports whether coachID owns customerID.
func (r Repo) CustomerOwnedBy(ctx context.Context, customerID, coachID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM customers WHERE id=? AND coach_id=? LIMIT 1`, customerID, coachID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// UpdateCustomerStage writes stage columns and the mirrored metadata blob when the
// stored stage_version still equals expectedVersion. It reports whether a row changed.
func (r Repo) UpdateCustomerStage(ctx context.Context, tx *sql.Tx, customerID, stage, updatedAt, metadataJSON string, expectedVersion int64) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE customers SET coach_stage=?, coach_stage_updated_at=?, metadata_json=?, stage_version=stage_version+1
WHERE id=? AND stage_version=?`, stage, updatedAt, metadataJSON, customerID, expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func marshalStrings(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return out, nil
}
