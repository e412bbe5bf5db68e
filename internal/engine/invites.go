package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"coachline/internal/domain"
	"coachline/internal/events"
	"coachline/internal/repo"
)

// RegisterCoach creates or renames a coach.
func (e Engine) RegisterCoach(ctx context.Context, id, name, actorID string) (domain.Coach, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Coach{}, ValidationError{Field: "id", Reason: "required"}
	}
	if name == "" {
		name = id
	}
	c := domain.Coach{ID: id, Name: name, CreatedAt: e.timestamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Coach{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureCoach(ctx, tx, c); err != nil {
		return domain.Coach{}, fmt.Errorf("ensure coach: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.CoachRegistered, "coach", c.ID, actorID, events.EventPayload{"name": c.Name}); err != nil {
		return domain.Coach{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Coach{}, err
	}
	return e.Repo.GetCoach(ctx, id)
}

// RegisterCustomer creates a customer owned by coachID.
func (e Engine) RegisterCustomer(ctx context.Context, id, coachID, name, actorID string) (domain.Customer, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Customer{}, ValidationError{Field: "id", Reason: "required"}
	}
	if _, err := e.Repo.GetCoach(ctx, coachID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Customer{}, ValidationError{Field: "coach_id", Reason: "unknown coach " + coachID}
		}
		return domain.Customer{}, err
	}
	if existing, err := e.Repo.GetCustomer(ctx, id); err == nil && existing.CoachID != coachID {
		return domain.Customer{}, ValidationError{Field: "coach_id", Reason: "customer belongs to another coach"}
	}
	if name == "" {
		name = id
	}
	c := domain.Customer{ID: id, CoachID: coachID, Name: name, CreatedAt: e.timestamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Customer{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureCustomer(ctx, tx, c); err != nil {
		return domain.Customer{}, fmt.Errorf("ensure customer: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.CustomerRegistered, "customer", c.ID, actorID, events.EventPayload{"coach_id": coachID}); err != nil {
		return domain.Customer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Customer{}, err
	}
	return e.Repo.GetCustomer(ctx, id)
}

// IssueInviteOptions are parameters for issuing an invite.
type IssueInviteOptions struct {
	CoachID    string
	CustomerID string
	Quiz       domain.QuizVersion
	TTL        time.Duration
	ActorID    string
}

// IssuedInvite carries the plaintext token, which is never stored.
type IssuedInvite struct {
	Invite domain.Invite `json:"invite"`
	Token  string        `json:"token"`
}

func (e Engine) IssueInvite(ctx context.Context, opts IssueInviteOptions) (IssuedInvite, error) {
	owned, err := e.Repo.CustomerOwnedBy(ctx, opts.CustomerID, opts.CoachID)
	if err != nil {
		return IssuedInvite{}, err
	}
	if !owned {
		return IssuedInvite{}, ValidationError{Field: "customer_id", Reason: fmt.Sprintf("customer %s is not owned by coach %s", opts.CustomerID, opts.CoachID)}
	}
	if _, err := e.Repo.GetQuiz(ctx, nil, opts.Quiz); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return IssuedInvite{}, ValidationError{Field: "quiz", Reason: fmt.Sprintf("no quiz for version %s track %s", opts.Quiz.Version, opts.Quiz.Track)}
		}
		return IssuedInvite{}, err
	}
	if opts.TTL < 0 {
		return IssuedInvite{}, ValidationError{Field: "ttl", Reason: "must not be negative"}
	}
	token, err := newToken()
	if err != nil {
		return IssuedInvite{}, err
	}
	now := e.now().UTC()
	inv := domain.Invite{
		ID:         uuid.NewString(),
		CoachID:    opts.CoachID,
		CustomerID: opts.CustomerID,
		Quiz:       opts.Quiz,
		Status:     domain.InviteActive,
		TokenHash:  repo.HashToken(token),
		CreatedAt:  now.Format(time.RFC3339),
		UpdatedAt:  now.Format(time.RFC3339),
	}
	if opts.TTL > 0 {
		exp := now.Add(opts.TTL).Format(time.RFC3339)
		inv.ExpiresAt = &exp
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IssuedInvite{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertInvite(ctx, tx, inv); err != nil {
		return IssuedInvite{}, fmt.Errorf("insert invite: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.InviteIssued, "invite", inv.ID, opts.ActorID, events.EventPayload{
		"customer_id": inv.CustomerID,
		"quiz":        inv.Quiz,
		"expires_at":  inv.ExpiresAt,
	}); err != nil {
		return IssuedInvite{}, err
	}
	if err := tx.Commit(); err != nil {
		return IssuedInvite{}, err
	}
	return IssuedInvite{Invite: inv, Token: token}, nil
}

// ExpireInvite administratively expires a non-terminal invite.
func (e Engine) ExpireInvite(ctx context.Context, inviteID, actorID string) (domain.Invite, error) {
	inv, err := e.Repo.GetInvite(ctx, inviteID)
	if err != nil {
		return domain.Invite{}, err
	}
	if err := ensureInviteTransition(inv.Status, domain.InviteExpired); err != nil {
		return domain.Invite{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invite{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionInviteStatus(ctx, tx, inv.ID, inv.Status, domain.InviteExpired, e.timestamp())
	if err != nil {
		return domain.Invite{}, err
	}
	if !ok {
		return domain.Invite{}, fmt.Errorf("%w: invite %s changed status concurrently", ErrInvalidTransition, inv.ID)
	}
	if err := e.Events.Append(ctx, tx, events.InviteExpired, "invite", inv.ID, actorID, events.EventPayload{"from": inv.Status, "reason": "admin"}); err != nil {
		return domain.Invite{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invite{}, err
	}
	return e.Repo.GetInvite(ctx, inv.ID)
}

// ExpireStaleInvites persists the expired status for every open invite past its expiry.
// It returns the number of invites changed.
func (e Engine) ExpireStaleInvites(ctx context.Context, actorID string) (int, error) {
	stale, err := e.Repo.ListExpiredOpenInvites(ctx, e.timestamp())
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n := 0
	for _, inv := range stale {
		ok, err := e.Repo.TransitionInviteStatus(ctx, tx, inv.ID, inv.Status, domain.InviteExpired, e.timestamp())
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if err := e.Events.Append(ctx, tx, events.InviteExpired, "invite", inv.ID, actorID, events.EventPayload{"from": inv.Status, "reason": "ttl"}); err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func ensureInviteTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.InviteActive:
		if newStatus == domain.InviteEntered || newStatus == domain.InviteExpired {
			return nil
		}
	case domain.InviteEntered:
		if newStatus == domain.InviteCompleted || newStatus == domain.InviteExpired {
			return nil
		}
	}
	return fmt.Errorf("%w: invite %s -> %s", ErrInvalidTransition, oldStatus, newStatus)
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
