package domain

import "encoding/json"

// Invite statuses.
const (
	InviteActive    = "active"
	InviteEntered   = "entered"
	InviteCompleted = "completed"
	InviteExpired   = "expired"
)

// Content statuses shared by questions, SOP definitions and rules.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// QuizVersion selects one quiz: a content version tag and a track.
type QuizVersion struct {
	Version string `json:"version" example:"v1"`
	Track   string `json:"track" example:"fast"`
}

type Coach struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Customer struct {
	ID                  string `json:"id"`
	CoachID             string `json:"coach_id"`
	Name                string `json:"name"`
	CoachStage          string `json:"coach_stage,omitempty" enum:"pre,mid,post"`
	CoachStageUpdatedAt string `json:"coach_stage_updated_at,omitempty" format:"date-time"`
	StageVersion        int64  `json:"stage_version"`
	MetadataJSON        string `json:"metadata_json,omitempty"`
	CreatedAt           string `json:"created_at" format:"date-time"`
}

type Invite struct {
	ID         string      `json:"id"`
	CoachID    string      `json:"coach_id"`
	CustomerID string      `json:"customer_id"`
	Quiz       QuizVersion `json:"quiz"`
	Status     string      `json:"status" enum:"active,entered,completed,expired"`
	TokenHash  string      `json:"-"`
	ExpiresAt  *string     `json:"expires_at,omitempty" format:"date-time"`
	CreatedAt  string      `json:"created_at" format:"date-time"`
	UpdatedAt  string      `json:"updated_at" format:"date-time"`
	Customer   *Customer   `json:"customer,omitempty"`
	Coach      *Coach      `json:"coach,omitempty"`
}

type Attempt struct {
	ID          string            `json:"id"`
	InviteID    string            `json:"invite_id"`
	CustomerID  string            `json:"customer_id"`
	CoachID     string            `json:"coach_id"`
	Quiz        QuizVersion       `json:"quiz"`
	StartedAt   string            `json:"started_at" format:"date-time"`
	SubmittedAt *string           `json:"submitted_at,omitempty" format:"date-time"`
	Answers     map[string]string `json:"answers"`
	Tags        []string          `json:"tags,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Summary     json.RawMessage   `json:"summary,omitempty"`
}

// Submitted reports whether the attempt has been sealed by scoring.
func (a Attempt) Submitted() bool {
	return a.SubmittedAt != nil && *a.SubmittedAt != ""
}

type Quiz struct {
	ID        string      `json:"id"`
	Quiz      QuizVersion `json:"quiz"`
	Title     string      `json:"title,omitempty"`
	Questions []Question  `json:"questions,omitempty"`
}

type Question struct {
	ID       string   `json:"id"`
	QuizID   string   `json:"quiz_id"`
	Prompt   string   `json:"prompt"`
	Position int      `json:"position"`
	Status   string   `json:"status" enum:"active,inactive"`
	Options  []Option `json:"options,omitempty"`
}

type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Label      string `json:"label"`
	Position   int    `json:"position"`
}

// Stage is a coaching-stage description used for fallback guidance.
type Stage struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	Description   string   `json:"description,omitempty"`
	AllowActions  []string `json:"allow_actions,omitempty"`
	ForbidActions []string `json:"forbid_actions,omitempty"`
}

type SOPDefinition struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Stage      string   `json:"stage"`
	Priority   int      `json:"priority"`
	Strategies []string `json:"strategies"`
	Forbidden  []string `json:"forbidden"`
	Summary    string   `json:"summary,omitempty"`
	Goal       string   `json:"goal,omitempty"`
	Status     string   `json:"status" enum:"active,inactive"`
}

type SOPRule struct {
	ID            string   `json:"id"`
	SOPID         string   `json:"sop_id"`
	RequiredStage string   `json:"required_stage"`
	RequiredTags  []string `json:"required_tags"`
	ExcludedTags  []string `json:"excluded_tags"`
	Confidence    int      `json:"confidence"`
	Status        string   `json:"status" enum:"active,inactive"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

// StageDefault maps a stage to its fallback SOP.
type StageDefault struct {
	StageID   string `json:"stage_id"`
	SOPID     string `json:"sop_id"`
	IsDefault bool   `json:"is_default"`
}

type CoachTag struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Tag        string `json:"tag"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
