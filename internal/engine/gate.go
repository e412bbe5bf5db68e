package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"coachline/internal/domain"
	"coachline/internal/repo"
)

// Allow-lists used by the invite flow.
var (
	OpenStatuses = []string{domain.InviteActive, domain.InviteEntered}
	AnyStatus    = []string{domain.InviteActive, domain.InviteEntered, domain.InviteCompleted, domain.InviteExpired}
)

// ResolveInvite looks up the invite behind token and checks its status against allowed.
// A non-terminal invite past its expiry is reported as expired without being written.
func (e Engine) ResolveInvite(ctx context.Context, token string, allowed []string, includeRelations bool) (domain.Invite, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Invite{}, ErrInviteInvalid
	}
	inv, err := e.Repo.GetInviteByTokenHash(ctx, repo.HashToken(token))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Invite{}, ErrInviteInvalid
		}
		return domain.Invite{}, err
	}
	inv.Status = e.effectiveStatus(inv)
	if !slices.Contains(allowed, inv.Status) {
		return domain.Invite{}, ErrInviteExpiredOrCompleted
	}
	if includeRelations {
		cust, err := e.Repo.GetCustomer(ctx, inv.CustomerID)
		if err != nil {
			return domain.Invite{}, err
		}
		coach, err := e.Repo.GetCoach(ctx, inv.CoachID)
		if err != nil {
			return domain.Invite{}, err
		}
		inv.Customer = &cust
		inv.Coach = &coach
	}
	return inv, nil
}

func (e Engine) effectiveStatus(inv domain.Invite) string {
	if inv.Status != domain.InviteActive && inv.Status != domain.InviteEntered {
		return inv.Status
	}
	if inv.ExpiresAt == nil {
		return inv.Status
	}
	exp, err := time.Parse(time.RFC3339, *inv.ExpiresAt)
	if err != nil {
		return inv.Status
	}
	if !e.now().Before(exp) {
		return domain.InviteExpired
	}
	return inv.Status
}
