package engine

import (
	"context"
	"fmt"

	"coachline/internal/domain"
	"coachline/internal/engine/stage"
	"coachline/internal/events"
)

const maxStageWriteAttempts = 3

// StageState is a customer's coaching stage as persisted.
type StageState struct {
	CustomerID string `json:"customer_id"`
	Stage      string `json:"stage" enum:"pre,mid,post"`
	UpdatedAt  string `json:"updated_at,omitempty" format:"date-time"`
	Version    int64  `json:"version"`
}

func stageOf(c domain.Customer) (StageState, error) {
	st := StageState{CustomerID: c.ID, Version: c.StageVersion}
	if stage.Valid(c.CoachStage) {
		st.Stage = c.CoachStage
		st.UpdatedAt = c.CoachStageUpdatedAt
		return st, nil
	}
	blobStage, blobAt, err := stage.ReadMetadata(c.MetadataJSON)
	if err != nil {
		return StageState{}, err
	}
	st.Stage = stage.OrDefault(blobStage)
	if stage.Valid(blobStage) {
		st.UpdatedAt = blobAt
	}
	return st, nil
}

// CurrentStage returns the customer's stage, pre when never set.
func (e Engine) CurrentStage(ctx context.Context, customerID string) (StageState, error) {
	c, err := e.Repo.GetCustomer(ctx, customerID)
	if err != nil {
		return StageState{}, err
	}
	return stageOf(c)
}

// SetStage overwrites the stage, backward moves included.
func (e Engine) SetStage(ctx context.Context, customerID, value, actorID string) (StageState, error) {
	next, err := stage.Parse(value)
	if err != nil {
		return StageState{}, ValidationError{Field: "stage", Reason: err.Error()}
	}
	return e.writeStage(ctx, customerID, actorID, "set", func(string) string { return next })
}

// AdvanceStage moves the stage one step forward, saturating at post.
func (e Engine) AdvanceStage(ctx context.Context, customerID, actorID string) (StageState, error) {
	return e.writeStage(ctx, customerID, actorID, "advance", stage.Advance)
}

// writeStage applies next under the customer's stage_version, retrying lost races.
func (e Engine) writeStage(ctx context.Context, customerID, actorID, op string, next func(current string) string) (StageState, error) {
	for i := 0; i < maxStageWriteAttempts; i++ {
		c, err := e.Repo.GetCustomer(ctx, customerID)
		if err != nil {
			return StageState{}, err
		}
		cur, err := stageOf(c)
		if err != nil {
			return StageState{}, err
		}
		target := next(cur.Stage)
		at := e.timestamp()
		meta, err := stage.WriteMetadata(c.MetadataJSON, target, at)
		if err != nil {
			return StageState{}, err
		}
		ok, err := e.commitStage(ctx, c, cur.Stage, target, at, meta, actorID, op)
		if err != nil {
			return StageState{}, err
		}
		if ok {
			return StageState{CustomerID: c.ID, Stage: target, UpdatedAt: at, Version: c.StageVersion + 1}, nil
		}
	}
	return StageState{}, fmt.Errorf("%w: customer %s", ErrStageConflict, customerID)
}

func (e Engine) commitStage(ctx context.Context, c domain.Customer, from, to, at, meta, actorID, op string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.UpdateCustomerStage(ctx, tx, c.ID, to, at, meta, c.StageVersion)
	if err != nil {
		return false, fmt.Errorf("update stage: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := e.Events.Append(ctx, tx, events.StageSet, "customer", c.ID, actorID, events.EventPayload{"op": op, "from": from, "to": to}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

