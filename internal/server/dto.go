package server

import (
	"encoding/json"

	"coachline/internal/domain"
	"coachline/internal/engine"
	"coachline/internal/engine/sop"
)

// Request payloads

type RecordAnswersRequest struct {
	Answers map[string]string `json:"answers" doc:"question id to option id"`
}

type SetStageRequest struct {
	Stage string `json:"stage" enum:"pre,mid,post"`
}

type AddCoachTagRequest struct {
	Tag string `json:"tag" example:"coach:needs-follow-up"`
}

type MatchSOPRequest struct {
	Stage string   `json:"stage" example:"mid"`
	Tags  []string `json:"tags"`
}

// Response payloads

type StartAttemptResponse struct {
	AttemptID string             `json:"attempt_id"`
	Quiz      domain.QuizVersion `json:"quiz"`
	StartedAt string             `json:"started_at" format:"date-time"`
	Resumed   bool               `json:"resumed"`
}

type RecordAnswersResponse struct {
	AttemptID string `json:"attempt_id"`
	Answered  int    `json:"answered"`
}

type InviteView struct {
	Status       string             `json:"status" enum:"active,entered,completed,expired"`
	Quiz         domain.QuizVersion `json:"quiz"`
	ExpiresAt    string             `json:"expires_at,omitempty" format:"date-time"`
	CustomerName string             `json:"customer_name,omitempty"`
	CoachName    string             `json:"coach_name,omitempty"`
}

type AttemptView struct {
	ID          string            `json:"id"`
	StartedAt   string            `json:"started_at" format:"date-time"`
	SubmittedAt string            `json:"submitted_at,omitempty" format:"date-time"`
	Answers     map[string]string `json:"answers"`
	Tags        []string          `json:"tags"`
	Stage       string            `json:"stage,omitempty"`
	Summary     json.RawMessage   `json:"summary,omitempty"`
}

type ResultResponse struct {
	Invite  InviteView   `json:"invite"`
	Attempt *AttemptView `json:"attempt,omitempty"`
}

type CoachTagsResponse struct {
	CustomerID string   `json:"customer_id"`
	Tags       []string `json:"tags"`
}

type MatchSOPResponse struct {
	Matched bool       `json:"matched"`
	Panel   *sop.Panel `json:"panel,omitempty"`
}

func startAttemptResponse(res engine.StartResult) StartAttemptResponse {
	return StartAttemptResponse{
		AttemptID: res.Attempt.ID,
		Quiz:      res.Attempt.Quiz,
		StartedAt: res.Attempt.StartedAt,
		Resumed:   res.Resumed,
	}
}

// resultResponse exposes only what an invite holder may see; internal ids stay hidden.
func resultResponse(v engine.ResultView) ResultResponse {
	out := ResultResponse{Invite: InviteView{
		Status: v.Invite.Status,
		Quiz:   v.Invite.Quiz,
	}}
	if v.Invite.ExpiresAt != nil {
		out.Invite.ExpiresAt = *v.Invite.ExpiresAt
	}
	if v.Invite.Customer != nil {
		out.Invite.CustomerName = v.Invite.Customer.Name
	}
	if v.Invite.Coach != nil {
		out.Invite.CoachName = v.Invite.Coach.Name
	}
	if a := v.Attempt; a != nil {
		av := &AttemptView{
			ID:        a.ID,
			StartedAt: a.StartedAt,
			Answers:   a.Answers,
			Tags:      a.Tags,
			Stage:     a.Stage,
			Summary:   a.Summary,
		}
		if av.Tags == nil {
			av.Tags = []string{}
		}
		if a.SubmittedAt != nil {
			av.SubmittedAt = *a.SubmittedAt
		}
		out.Attempt = av
	}
	return out
}
