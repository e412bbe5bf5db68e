package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInviteInvalid means the presented token resolves to no invite.
	ErrInviteInvalid = errors.New("invite invalid")

	// ErrInviteExpiredOrCompleted means the invite exists but its status is not allowed here.
	ErrInviteExpiredOrCompleted = errors.New("invite expired or completed")

	// ErrAttemptNotFound means the attempt does not belong to the resolved invite.
	ErrAttemptNotFound = errors.New("attempt not found for invite")

	// ErrAttemptAlreadySubmitted means the attempt is sealed and takes no more answers.
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")

	// ErrStageConflict means concurrent stage writes kept winning over this one.
	ErrStageConflict = errors.New("stage changed concurrently; retry")

	// ErrInvalidTransition means the requested invite status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError rejects a malformed request payload as a whole.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}
