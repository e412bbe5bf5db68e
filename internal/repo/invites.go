package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"coachline/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for an invite token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

const inviteColumns = `id,coach_id,customer_id,quiz_version,quiz_track,status,token_hash,expires_at,created_at,updated_at`

func scanInvite(row interface{ Scan(...any) error }) (domain.Invite, error) {
	var inv domain.Invite
	var expires sql.NullString
	err := row.Scan(&inv.ID, &inv.CoachID, &inv.CustomerID, &inv.Quiz.Version, &inv.Quiz.Track, &inv.Status, &inv.TokenHash, &expires, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inv, ErrNotFound
	}
	if err != nil {
		return inv, err
	}
	if expires.Valid && expires.String != "" {
		inv.ExpiresAt = &expires.String
	}
	return inv, nil
}

// InsertInvite stores an invite. TokenHash must already contain the hashed value.
func (r Repo) InsertInvite(ctx context.Context, tx *sql.Tx, inv domain.Invite) error {
	if inv.ID == "" {
		return errors.New("id required")
	}
	if inv.TokenHash == "" {
		return errors.New("token_hash required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO invites(`+inviteColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.CoachID, inv.CustomerID, inv.Quiz.Version, inv.Quiz.Track, inv.Status, inv.TokenHash,
		nullableStringPtr(inv.ExpiresAt), inv.CreatedAt, inv.UpdatedAt)
	return err
}

// GetInviteByTokenHash returns an invite by its hashed token.
func (r Repo) GetInviteByTokenHash(ctx context.Context, hash string) (domain.Invite, error) {
	return scanInvite(r.DB.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE token_hash=? LIMIT 1`, hash))
}

func (r Repo) GetInvite(ctx context.Context, id string) (domain.Invite, error) {
	return scanInvite(r.DB.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id=?`, id))
}

func (r Repo) GetInviteTx(ctx context.Context, tx *sql.Tx, id string) (domain.Invite, error) {
	return scanInvite(tx.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id=?`, id))
}

// TransitionInviteStatus moves an invite from one status to another and reports whether
// the row was still in the expected status.
func (r Repo) TransitionInviteStatus(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE invites SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListExpiredOpenInvites returns non-terminal invites whose expiry is at or before now.
func (r Repo) ListExpiredOpenInvites(ctx context.Context, now string) ([]domain.Invite, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inviteColumns+` FROM invites
WHERE status IN ('active','entered') AND expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at, id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

func (r Repo) ListInvitesByCustomer(ctx context.Context, customerID string) ([]domain.Invite, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE customer_id=? ORDER BY created_at DESC, id DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}
