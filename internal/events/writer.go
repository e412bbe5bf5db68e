package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle event types.
const (
	CoachRegistered    = "coach.registered"
	CustomerRegistered = "customer.registered"
	InviteIssued       = "invite.issued"
	InviteEntered      = "invite.entered"
	InviteCompleted    = "invite.completed"
	InviteExpired      = "invite.expired"
	AttemptStarted     = "attempt.started"
	AttemptAnswered    = "attempt.answered"
	AttemptSubmitted   = "attempt.submitted"
	StageSet           = "stage.set"
	CoachTagAdded      = "coach_tag.added"
	CoachTagRemoved    = "coach_tag.removed"
	ContentImported    = "content.imported"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one journal row inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if actorID == "" {
		actorID = "system"
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data)); err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
