package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"coachline/internal/domain"
	"coachline/internal/events"
	"coachline/internal/repo"
)

// StartResult is the attempt returned by StartAttempt. Resumed is true when an open
// attempt already existed.
type StartResult struct {
	Attempt domain.Attempt `json:"attempt"`
	Resumed bool           `json:"resumed"`
}

// StartAttempt returns the invite's open attempt or creates it, moving the invite to entered.
func (e Engine) StartAttempt(ctx context.Context, token string) (StartResult, error) {
	inv, err := e.ResolveInvite(ctx, token, OpenStatuses, false)
	if err != nil {
		return StartResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StartResult{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetOpenAttemptForInvite(ctx, tx, inv.ID)
	if err == nil {
		return StartResult{Attempt: existing, Resumed: true}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return StartResult{}, err
	}

	now := e.timestamp()
	if inv.Status == domain.InviteActive {
		if err := ensureInviteTransition(inv.Status, domain.InviteEntered); err != nil {
			return StartResult{}, err
		}
		ok, err := e.Repo.TransitionInviteStatus(ctx, tx, inv.ID, domain.InviteActive, domain.InviteEntered, now)
		if err != nil {
			return StartResult{}, fmt.Errorf("enter invite: %w", err)
		}
		if ok {
			if err := e.Events.Append(ctx, tx, events.InviteEntered, "invite", inv.ID, inv.CustomerID, nil); err != nil {
				return StartResult{}, err
			}
		} else {
			cur, err := e.Repo.GetInviteTx(ctx, tx, inv.ID)
			if err != nil {
				return StartResult{}, err
			}
			if cur.Status != domain.InviteEntered {
				return StartResult{}, ErrInviteExpiredOrCompleted
			}
		}
	}

	a := domain.Attempt{
		ID:         uuid.NewString(),
		InviteID:   inv.ID,
		CustomerID: inv.CustomerID,
		CoachID:    inv.CoachID,
		Quiz:       inv.Quiz,
		StartedAt:  now,
		Answers:    map[string]string{},
	}
	if err := e.Repo.InsertAttempt(ctx, tx, a); err != nil {
		if repo.IsUniqueViolation(err) {
			_ = tx.Rollback()
			return e.reloadOpenAttempt(ctx, inv.ID)
		}
		return StartResult{}, fmt.Errorf("insert attempt: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.AttemptStarted, "attempt", a.ID, inv.CustomerID, events.EventPayload{"invite_id": inv.ID}); err != nil {
		return StartResult{}, err
	}
	if err := tx.Commit(); err != nil {
		if repo.IsUniqueViolation(err) {
			return e.reloadOpenAttempt(ctx, inv.ID)
		}
		return StartResult{}, err
	}
	return StartResult{Attempt: a}, nil
}

// reloadOpenAttempt is the loser's path of a concurrent start.
func (e Engine) reloadOpenAttempt(ctx context.Context, inviteID string) (StartResult, error) {
	a, err := e.Repo.GetOpenAttemptForInvite(ctx, nil, inviteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return StartResult{}, ErrAttemptAlreadySubmitted
		}
		return StartResult{}, err
	}
	return StartResult{Attempt: a, Resumed: true}, nil
}

// AnswerResult reports the attempt's distinct answered-question count after a merge.
type AnswerResult struct {
	AttemptID string `json:"attempt_id"`
	Answered  int    `json:"answered"`
}

// RecordAnswers validates answers against the invite's quiz and merges them into the
// attempt, last write wins per question. Nothing is written when any answer is invalid.
// A submitted attempt of the invite always yields ErrAttemptAlreadySubmitted, even once
// submission has closed the invite.
func (e Engine) RecordAnswers(ctx context.Context, token, attemptID string, answers map[string]string) (AnswerResult, error) {
	inv, err := e.ResolveInvite(ctx, token, AnyStatus, false)
	if err != nil {
		return AnswerResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AnswerResult{}, err
	}
	defer tx.Rollback()

	var a domain.Attempt
	found := false
	if strings.TrimSpace(attemptID) != "" {
		a, err = e.Repo.GetAttemptForInvite(ctx, tx, attemptID, inv.ID)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, repo.ErrNotFound):
			return AnswerResult{}, err
		}
	}
	if found && a.Submitted() {
		return AnswerResult{}, ErrAttemptAlreadySubmitted
	}
	if !slices.Contains(OpenStatuses, inv.Status) {
		return AnswerResult{}, ErrInviteExpiredOrCompleted
	}
	if !found {
		return AnswerResult{}, ErrAttemptNotFound
	}
	if len(answers) == 0 {
		return AnswerResult{}, ValidationError{Field: "answers", Reason: "at least one answer is required"}
	}
	quiz, err := e.Repo.GetQuiz(ctx, tx, a.Quiz)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AnswerResult{}, ValidationError{Field: "quiz", Reason: fmt.Sprintf("no quiz for version %s track %s", a.Quiz.Version, a.Quiz.Track)}
		}
		return AnswerResult{}, err
	}
	if err := validateAnswers(quiz, answers); err != nil {
		return AnswerResult{}, err
	}

	merged := make(map[string]string, len(a.Answers)+len(answers))
	for q, o := range a.Answers {
		merged[q] = o
	}
	for q, o := range answers {
		merged[q] = o
	}
	ok, err := e.Repo.UpdateAttemptAnswers(ctx, tx, a.ID, merged)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("update answers: %w", err)
	}
	if !ok {
		return AnswerResult{}, ErrAttemptAlreadySubmitted
	}
	if err := e.Events.Append(ctx, tx, events.AttemptAnswered, "attempt", a.ID, inv.CustomerID, events.EventPayload{
		"questions": sortedKeys(answers),
		"answered":  len(merged),
	}); err != nil {
		return AnswerResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{AttemptID: a.ID, Answered: len(merged)}, nil
}

func validateAnswers(quiz domain.Quiz, answers map[string]string) error {
	questions := make(map[string]domain.Question, len(quiz.Questions))
	for _, q := range quiz.Questions {
		questions[q.ID] = q
	}
	for _, qid := range sortedKeys(answers) {
		oid := answers[qid]
		q, ok := questions[qid]
		if !ok {
			return ValidationError{Field: "answers." + qid, Reason: "question not in quiz"}
		}
		if q.Status != domain.StatusActive {
			return ValidationError{Field: "answers." + qid, Reason: "question is inactive"}
		}
		if !hasOption(q, oid) {
			return ValidationError{Field: "answers." + qid, Reason: fmt.Sprintf("option %q does not belong to question", oid)}
		}
	}
	return nil
}

func hasOption(q domain.Question, optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Submission is the scoring output sealed onto an attempt.
type Submission struct {
	Tags    []string        `json:"tags"`
	Stage   string          `json:"stage,omitempty"`
	Summary json.RawMessage `json:"summary,omitempty"`
}

// SubmitAttempt seals an attempt with scoring output and completes its invite.
// Scoring itself happens elsewhere.
func (e Engine) SubmitAttempt(ctx context.Context, attemptID string, sub Submission, actorID string) (domain.Attempt, error) {
	a, err := e.Repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if a.Submitted() {
		return domain.Attempt{}, ErrAttemptAlreadySubmitted
	}
	if len(sub.Summary) > 0 && !json.Valid(sub.Summary) {
		return domain.Attempt{}, ValidationError{Field: "summary", Reason: "must be valid JSON"}
	}
	var cleaned []string
	for _, t := range sub.Tags {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attempt{}, err
	}
	defer tx.Rollback()
	now := e.timestamp()
	ok, err := e.Repo.MarkAttemptSubmitted(ctx, tx, a.ID, repo.Submission{
		SubmittedAt: now,
		Tags:        cleaned,
		Stage:       sub.Stage,
		Summary:     sub.Summary,
	})
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("mark submitted: %w", err)
	}
	if !ok {
		return domain.Attempt{}, ErrAttemptAlreadySubmitted
	}
	if err := e.Events.Append(ctx, tx, events.AttemptSubmitted, "attempt", a.ID, actorID, events.EventPayload{"tags": cleaned, "stage": sub.Stage}); err != nil {
		return domain.Attempt{}, err
	}
	inv, err := e.Repo.GetInviteTx(ctx, tx, a.InviteID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if ensureInviteTransition(inv.Status, domain.InviteCompleted) == nil {
		done, err := e.Repo.TransitionInviteStatus(ctx, tx, inv.ID, inv.Status, domain.InviteCompleted, now)
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("complete invite: %w", err)
		}
		if done {
			if err := e.Events.Append(ctx, tx, events.InviteCompleted, "invite", inv.ID, actorID, events.EventPayload{"attempt_id": a.ID}); err != nil {
				return domain.Attempt{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Attempt{}, err
	}
	return e.Repo.GetAttempt(ctx, a.ID)
}

// ResultView is what an invite holder may see: the invite and its latest attempt, if any.
type ResultView struct {
	Invite  domain.Invite   `json:"invite"`
	Attempt *domain.Attempt `json:"attempt,omitempty"`
}

// ViewResult is read-only and accepts invites in any status.
func (e Engine) ViewResult(ctx context.Context, token string) (ResultView, error) {
	inv, err := e.ResolveInvite(ctx, token, AnyStatus, true)
	if err != nil {
		return ResultView{}, err
	}
	view := ResultView{Invite: inv}
	a, err := e.Repo.LatestAttemptForInvite(ctx, inv.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return view, nil
		}
		return ResultView{}, err
	}
	view.Attempt = &a
	return view, nil
}
