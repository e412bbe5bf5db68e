package repo

import (
	"context"
	"database/sql"
	"errors"

	"coachline/internal/domain"
)

const sopColumns = `d.id,d.name,d.stage,d.priority,d.strategies_json,d.forbidden_json,d.summary,d.goal,d.status`

func scanSOP(row interface{ Scan(...any) error }) (domain.SOPDefinition, error) {
	var d domain.SOPDefinition
	var strategies, forbidden, summary, goal sql.NullString
	err := row.Scan(&d.ID, &d.Name, &d.Stage, &d.Priority, &strategies, &forbidden, &summary, &goal, &d.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if d.Strategies, err = decodeStrings(strategies); err != nil {
		return d, err
	}
	if d.Forbidden, err = decodeStrings(forbidden); err != nil {
		return d, err
	}
	d.Summary = summary.String
	d.Goal = goal.String
	return d, nil
}

func (r Repo) UpsertSOPDefinition(ctx context.Context, tx *sql.Tx, d domain.SOPDefinition) error {
	strategies, err := marshalStrings(d.Strategies)
	if err != nil {
		return err
	}
	forbidden, err := marshalStrings(d.Forbidden)
	if err != nil {
		return err
	}
	status := d.Status
	if status == "" {
		status = domain.StatusActive
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO sop_definitions(id,name,stage,priority,strategies_json,forbidden_json,summary,goal,status)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, stage=excluded.stage, priority=excluded.priority,
strategies_json=excluded.strategies_json, forbidden_json=excluded.forbidden_json,
summary=excluded.summary, goal=excluded.goal, status=excluded.status`,
		d.ID, d.Name, d.Stage, d.Priority, strategies, forbidden, nullable(d.Summary), nullable(d.Goal), status)
	return err
}

func (r Repo) UpsertSOPRule(ctx context.Context, tx *sql.Tx, rule domain.SOPRule) error {
	required, err := marshalStrings(rule.RequiredTags)
	if err != nil {
		return err
	}
	excluded, err := marshalStrings(rule.ExcludedTags)
	if err != nil {
		return err
	}
	status := rule.Status
	if status == "" {
		status = domain.StatusActive
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO sop_rules(id,sop_id,required_stage,required_tags_json,excluded_tags_json,confidence,status,created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET sop_id=excluded.sop_id, required_stage=excluded.required_stage,
required_tags_json=excluded.required_tags_json, excluded_tags_json=excluded.excluded_tags_json,
confidence=excluded.confidence, status=excluded.status`,
		rule.ID, rule.SOPID, rule.RequiredStage, required, excluded, rule.Confidence, status, rule.CreatedAt)
	return err
}

// SetStageDefault makes sopID the single default for stageID.
func (r Repo) SetStageDefault(ctx context.Context, tx *sql.Tx, stageID, sopID string) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `UPDATE stage_defaults SET is_default=0 WHERE stage_id=? AND sop_id<>?`, stageID, sopID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO stage_defaults(stage_id,sop_id,is_default) VALUES (?,?,1)
ON CONFLICT(stage_id,sop_id) DO UPDATE SET is_default=1`, stageID, sopID)
	return err
}

func (r Repo) GetSOPDefinition(ctx context.Context, id string) (domain.SOPDefinition, error) {
	return scanSOP(r.DB.QueryRowContext(ctx, `SELECT `+sopColumns+` FROM sop_definitions d WHERE d.id=?`, id))
}

func (r Repo) ListActiveSOPDefinitions(ctx context.Context) ([]domain.SOPDefinition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sopColumns+` FROM sop_definitions d WHERE d.status='active' ORDER BY d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SOPDefinition
	for rows.Next() {
		d, err := scanSOP(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListActiveRules returns active rules whose definition is also active.
func (r Repo) ListActiveRules(ctx context.Context) ([]domain.SOPRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.id,r.sop_id,r.required_stage,r.required_tags_json,r.excluded_tags_json,r.confidence,r.status,r.created_at
FROM sop_rules r JOIN sop_definitions d ON d.id=r.sop_id
WHERE r.status='active' AND d.status='active' ORDER BY r.created_at, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SOPRule
	for rows.Next() {
		var rule domain.SOPRule
		var required, excluded sql.NullString
		if err := rows.Scan(&rule.ID, &rule.SOPID, &rule.RequiredStage, &required, &excluded, &rule.Confidence, &rule.Status, &rule.CreatedAt); err != nil {
			return nil, err
		}
		if rule.RequiredTags, err = decodeStrings(required); err != nil {
			return nil, err
		}
		if rule.ExcludedTags, err = decodeStrings(excluded); err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// GetDefaultSOPForStage returns the active SOP flagged as default for a stage.
func (r Repo) GetDefaultSOPForStage(ctx context.Context, stageID string) (domain.SOPDefinition, error) {
	return scanSOP(r.DB.QueryRowContext(ctx, `SELECT `+sopColumns+`
FROM stage_defaults sd JOIN sop_definitions d ON d.id=sd.sop_id
WHERE sd.stage_id=? AND sd.is_default=1 AND d.status='active' LIMIT 1`, stageID))
}
