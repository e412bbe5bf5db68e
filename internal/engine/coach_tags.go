package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"coachline/internal/domain"
	"coachline/internal/engine/tags"
	"coachline/internal/events"
	"coachline/internal/repo"
)

// AddCoachTag attaches a coach:* tag to a customer. Adding an existing tag is a no-op.
func (e Engine) AddCoachTag(ctx context.Context, customerID, tag, actorID string) (domain.CoachTag, error) {
	tag, err := tags.ValidateCoachTag(tag)
	if err != nil {
		return domain.CoachTag{}, ValidationError{Field: "tag", Reason: err.Error()}
	}
	if _, err := e.Repo.GetCustomer(ctx, customerID); err != nil {
		return domain.CoachTag{}, err
	}
	ct := domain.CoachTag{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Tag:        tag,
		CreatedBy:  actorID,
		CreatedAt:  e.timestamp(),
	}
	if ct.CreatedBy == "" {
		ct.CreatedBy = "system"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CoachTag{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCoachTag(ctx, tx, ct); err != nil {
		if repo.IsUniqueViolation(err) {
			_ = tx.Rollback()
			return e.findCoachTag(ctx, customerID, tag)
		}
		return domain.CoachTag{}, fmt.Errorf("insert coach tag: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.CoachTagAdded, "customer", customerID, actorID, events.EventPayload{"tag": tag}); err != nil {
		return domain.CoachTag{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CoachTag{}, err
	}
	return ct, nil
}

func (e Engine) findCoachTag(ctx context.Context, customerID, tag string) (domain.CoachTag, error) {
	list, err := e.Repo.ListCoachTags(ctx, customerID)
	if err != nil {
		return domain.CoachTag{}, err
	}
	for _, t := range list {
		if t.Tag == tag {
			return t, nil
		}
	}
	return domain.CoachTag{}, repo.ErrNotFound
}

// RemoveCoachTag detaches a tag; repo.ErrNotFound when it was not present.
func (e Engine) RemoveCoachTag(ctx context.Context, customerID, tag, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.DeleteCoachTag(ctx, tx, customerID, tag)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("coach tag %s on %s: %w", tag, customerID, repo.ErrNotFound)
	}
	if err := e.Events.Append(ctx, tx, events.CoachTagRemoved, "customer", customerID, actorID, events.EventPayload{"tag": tag}); err != nil {
		return err
	}
	return tx.Commit()
}

// CoachTags lists a customer's coach tags in insertion order.
func (e Engine) CoachTags(ctx context.Context, customerID string) ([]string, error) {
	list, err := e.Repo.ListCoachTags(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.Tag)
	}
	return out, nil
}
