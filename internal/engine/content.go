package engine

import (
	"context"
	"errors"
	"fmt"

	"coachline/internal/config"
	"coachline/internal/domain"
	"coachline/internal/events"
)

// ImportSummary counts the rows written by ImportContent.
type ImportSummary struct {
	Quizzes   int `json:"quizzes"`
	Questions int `json:"questions"`
	Stages    int `json:"stages"`
	SOPs      int `json:"sops"`
	Rules     int `json:"rules"`
	Defaults  int `json:"defaults"`
}

// ImportContent validates and upserts a content catalog in one transaction.
func (e Engine) ImportContent(ctx context.Context, c *config.Content, actorID string) (ImportSummary, error) {
	if c == nil {
		return ImportSummary{}, errors.New("content is required")
	}
	if err := c.Validate(); err != nil {
		return ImportSummary{}, ValidationError{Field: "content", Reason: err.Error()}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportSummary{}, err
	}
	defer tx.Rollback()
	now := e.timestamp()
	var sum ImportSummary

	for _, q := range c.Quizzes {
		quiz := domain.Quiz{ID: q.ID, Quiz: domain.QuizVersion{Version: q.Version, Track: q.Track}, Title: q.Title}
		for i, qs := range q.Questions {
			question := domain.Question{ID: qs.ID, QuizID: q.ID, Prompt: qs.Prompt, Position: i, Status: qs.Status}
			for j, o := range qs.Options {
				question.Options = append(question.Options, domain.Option{ID: o.ID, QuestionID: qs.ID, Label: o.Label, Position: j})
			}
			quiz.Questions = append(quiz.Questions, question)
		}
		if err := e.Repo.UpsertQuiz(ctx, tx, quiz); err != nil {
			return ImportSummary{}, fmt.Errorf("quiz %s: %w", q.ID, err)
		}
		sum.Quizzes++
		sum.Questions += len(q.Questions)
	}
	for _, s := range c.Stages {
		st := domain.Stage{ID: s.ID, Name: s.Name, Description: s.Description, AllowActions: s.Allow, ForbidActions: s.Forbid}
		if err := e.Repo.UpsertStage(ctx, tx, st); err != nil {
			return ImportSummary{}, fmt.Errorf("stage %s: %w", s.ID, err)
		}
		sum.Stages++
	}
	for _, s := range c.SOPs {
		def := domain.SOPDefinition{
			ID:         s.ID,
			Name:       s.Name,
			Stage:      s.Stage,
			Priority:   s.Priority,
			Strategies: s.Strategies,
			Forbidden:  s.Forbidden,
			Summary:    s.Summary,
			Goal:       s.Goal,
			Status:     s.Status,
		}
		if err := e.Repo.UpsertSOPDefinition(ctx, tx, def); err != nil {
			return ImportSummary{}, fmt.Errorf("sop %s: %w", s.ID, err)
		}
		sum.SOPs++
		for _, r := range s.Rules {
			rule := domain.SOPRule{
				ID:            r.ID,
				SOPID:         s.ID,
				RequiredStage: r.Stage,
				RequiredTags:  r.RequiredTags,
				ExcludedTags:  r.ExcludedTags,
				Confidence:    r.Confidence,
				Status:        r.Status,
				CreatedAt:     now,
			}
			if err := e.Repo.UpsertSOPRule(ctx, tx, rule); err != nil {
				return ImportSummary{}, fmt.Errorf("rule %s: %w", r.ID, err)
			}
			sum.Rules++
		}
	}
	for stageID, sopID := range c.Defaults {
		if err := e.Repo.SetStageDefault(ctx, tx, stageID, sopID); err != nil {
			return ImportSummary{}, fmt.Errorf("default for stage %s: %w", stageID, err)
		}
		sum.Defaults++
	}
	if err := e.Events.Append(ctx, tx, events.ContentImported, "content", "", actorID, events.EventPayload{
		"quizzes": sum.Quizzes,
		"sops":    sum.SOPs,
		"rules":   sum.Rules,
	}); err != nil {
		return ImportSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return ImportSummary{}, err
	}
	return sum, nil
}
