package auth

import (
	"context"
	"errors"
	"fmt"

	"coachline/internal/repo"
)

// ForbiddenError indicates the coach may not act on the customer.
type ForbiddenError struct {
	CoachID    string
	CustomerID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("coach %s may not access customer %s", e.CoachID, e.CustomerID)
}

// Service checks coach ownership backed by the repository.
type Service struct {
	Repo repo.Repo
}

// RequireCustomer fails with ForbiddenError unless coachID owns customerID. Unknown
// customers are reported the same way so ids cannot be probed.
func (s Service) RequireCustomer(ctx context.Context, coachID, customerID string) error {
	if coachID == "" {
		return errors.New("coach id required")
	}
	ok, err := s.Repo.CustomerOwnedBy(ctx, customerID, coachID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{CoachID: coachID, CustomerID: customerID}
	}
	return nil
}
