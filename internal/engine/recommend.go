package engine

import (
	"context"
	"errors"

	"coachline/internal/engine/sop"
	"coachline/internal/engine/tags"
	"coachline/internal/repo"
)

// MatchSOP selects guidance for (stageID, tagList): the best active rule, else the stage's
// default SOP. It returns nil when neither exists.
func (e Engine) MatchSOP(ctx context.Context, stageID string, tagList []string) (*sop.Panel, error) {
	defs, err := e.Repo.ListActiveSOPDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := e.Repo.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	if m := sop.Select(defs, rules, stageID, tagList); m != nil {
		p := sop.FromMatch(stageID, *m)
		return &p, nil
	}
	def, err := e.Repo.GetDefaultSOPForStage(ctx, stageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	p := sop.FromSOP(stageID, def, sop.SourceDefault)
	return &p, nil
}

// DefaultPanel always yields guidance for a stage: its default SOP, else a panel built
// from the stage row, else a minimal payload.
func (e Engine) DefaultPanel(ctx context.Context, stageID string) (sop.Panel, error) {
	def, err := e.Repo.GetDefaultSOPForStage(ctx, stageID)
	if err == nil {
		return sop.FromSOP(stageID, def, sop.SourceDefault), nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return sop.Panel{}, err
	}
	st, err := e.Repo.GetStage(ctx, stageID)
	if err == nil {
		return sop.FromStage(st), nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return sop.Panel{}, err
	}
	return sop.Minimal(stageID), nil
}

// Recommendation is the guidance computed for one customer.
type Recommendation struct {
	CustomerID string    `json:"customer_id"`
	Stage      string    `json:"stage"`
	Tags       []string  `json:"tags"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	Panel      sop.Panel `json:"panel"`
}

// Recommend combines the customer's stage, the tags of their latest submitted attempt
// and their coach tags into a single guidance panel.
func (e Engine) Recommend(ctx context.Context, customerID string) (Recommendation, error) {
	st, err := e.CurrentStage(ctx, customerID)
	if err != nil {
		return Recommendation{}, err
	}
	rec := Recommendation{CustomerID: customerID, Stage: st.Stage}
	var system []string
	a, err := e.Repo.LatestSubmittedAttemptForCustomer(ctx, customerID)
	switch {
	case err == nil:
		system = a.Tags
		rec.AttemptID = a.ID
	case !errors.Is(err, repo.ErrNotFound):
		return Recommendation{}, err
	}
	coach, err := e.CoachTags(ctx, customerID)
	if err != nil {
		return Recommendation{}, err
	}
	rec.Tags = tags.Aggregate(system, coach)
	p, err := e.MatchSOP(ctx, st.Stage, rec.Tags)
	if err != nil {
		return Recommendation{}, err
	}
	if p != nil {
		rec.Panel = *p
		return rec, nil
	}
	rec.Panel, err = e.DefaultPanel(ctx, st.Stage)
	if err != nil {
		return Recommendation{}, err
	}
	return rec, nil
}
