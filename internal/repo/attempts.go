package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"coachline/internal/domain"
)

const attemptColumns = `id,invite_id,customer_id,coach_id,quiz_version,quiz_track,started_at,submitted_at,answers_json,tags_json,stage,summary_json`

func scanAttempt(row interface{ Scan(...any) error }) (domain.Attempt, error) {
	var a domain.Attempt
	var submitted, tags, stage, summary sql.NullString
	var answers string
	err := row.Scan(&a.ID, &a.InviteID, &a.CustomerID, &a.CoachID, &a.Quiz.Version, &a.Quiz.Track, &a.StartedAt,
		&submitted, &answers, &tags, &stage, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if submitted.Valid && submitted.String != "" {
		a.SubmittedAt = &submitted.String
	}
	a.Answers = map[string]string{}
	if answers != "" {
		if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
			return a, fmt.Errorf("decode answers for attempt %s: %w", a.ID, err)
		}
	}
	if a.Tags, err = decodeStrings(tags); err != nil {
		return a, err
	}
	a.Stage = stage.String
	if summary.Valid && summary.String != "" {
		a.Summary = json.RawMessage(summary.String)
	}
	return a, nil
}

// InsertAttempt creates an open attempt. A second open attempt for the same invite
// fails with a unique violation (see IsUniqueViolation).
func (r Repo) InsertAttempt(ctx context.Context, tx *sql.Tx, a domain.Attempt) error {
	answers := "{}"
	if len(a.Answers) > 0 {
		b, err := json.Marshal(a.Answers)
		if err != nil {
			return err
		}
		answers = string(b)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO attempts(id,invite_id,customer_id,coach_id,quiz_version,quiz_track,started_at,answers_json)
VALUES (?,?,?,?,?,?,?,?)`, a.ID, a.InviteID, a.CustomerID, a.CoachID, a.Quiz.Version, a.Quiz.Track, a.StartedAt, answers)
	return err
}

// GetOpenAttemptForInvite returns the unsubmitted attempt of an invite, if any.
func (r Repo) GetOpenAttemptForInvite(ctx context.Context, tx *sql.Tx, inviteID string) (domain.Attempt, error) {
	return scanAttempt(r.q(tx).QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts
WHERE invite_id=? AND submitted_at IS NULL LIMIT 1`, inviteID))
}

// GetAttemptForInvite returns an attempt only when it belongs to inviteID.
func (r Repo) GetAttemptForInvite(ctx context.Context, tx *sql.Tx, attemptID, inviteID string) (domain.Attempt, error) {
	return scanAttempt(r.q(tx).QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts
WHERE id=? AND invite_id=?`, attemptID, inviteID))
}

func (r Repo) GetAttempt(ctx context.Context, id string) (domain.Attempt, error) {
	return scanAttempt(r.DB.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=?`, id))
}

// LatestAttemptForInvite returns the most recently started attempt of an invite.
func (r Repo) LatestAttemptForInvite(ctx context.Context, inviteID string) (domain.Attempt, error) {
	return scanAttempt(r.DB.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts
WHERE invite_id=? ORDER BY started_at DESC, id DESC LIMIT 1`, inviteID))
}

// LatestSubmittedAttemptForCustomer returns the customer's most recent sealed attempt.
func (r Repo) LatestSubmittedAttemptForCustomer(ctx context.Context, customerID string) (domain.Attempt, error) {
	return scanAttempt(r.DB.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts
WHERE customer_id=? AND submitted_at IS NOT NULL ORDER BY submitted_at DESC, id DESC LIMIT 1`, customerID))
}

// UpdateAttemptAnswers replaces the answer map of an open attempt. It reports false
// when the attempt was sealed in the meantime.
func (r Repo) UpdateAttemptAnswers(ctx context.Context, tx *sql.Tx, attemptID string, answers map[string]string) (bool, error) {
	b, err := json.Marshal(answers)
	if err != nil {
		return false, err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE attempts SET answers_json=? WHERE id=? AND submitted_at IS NULL`, string(b), attemptID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Submission is the scoring output written when an attempt is sealed.
type Submission struct {
	SubmittedAt string
	Tags        []string
	Stage       string
	Summary     json.RawMessage
}

// MarkAttemptSubmitted seals an attempt exactly once.
func (r Repo) MarkAttemptSubmitted(ctx context.Context, tx *sql.Tx, attemptID string, s Submission) (bool, error) {
	tags, err := marshalStrings(s.Tags)
	if err != nil {
		return false, err
	}
	var summary any
	if len(s.Summary) > 0 {
		summary = string(s.Summary)
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE attempts SET submitted_at=?, tags_json=?, stage=?, summary_json=?
WHERE id=? AND submitted_at IS NULL`, s.SubmittedAt, tags, nullable(s.Stage), summary, attemptID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
