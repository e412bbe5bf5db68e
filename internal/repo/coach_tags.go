package repo

import (
	"context"
	"database/sql"

	"coachline/internal/domain"
)

func (r Repo) InsertCoachTag(ctx context.Context, tx *sql.Tx, tag domain.CoachTag) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO coach_tags(id,customer_id,tag,created_by,created_at) VALUES (?,?,?,?,?)`,
		tag.ID, tag.CustomerID, tag.Tag, tag.CreatedBy, tag.CreatedAt)
	return err
}

// DeleteCoachTag removes a tag and reports whether it existed.
func (r Repo) DeleteCoachTag(ctx context.Context, tx *sql.Tx, customerID, tag string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM coach_tags WHERE customer_id=? AND tag=?`, customerID, tag)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListCoachTags returns a customer's coach tags in the order they were added.
func (r Repo) ListCoachTags(ctx context.Context, customerID string) ([]domain.CoachTag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,customer_id,tag,created_by,created_at FROM coach_tags
WHERE customer_id=? ORDER BY created_at, rowid`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CoachTag
	for rows.Next() {
		var t domain.CoachTag
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.Tag, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
