package repo

import (
	"context"
	"database/sql"
	"errors"

	"coachline/internal/domain"
)

// UpsertQuiz writes a quiz with its questions and options. Existing rows are updated in place.
func (r Repo) UpsertQuiz(ctx context.Context, tx *sql.Tx, quiz domain.Quiz) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO quizzes(id,version,track,title) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET version=excluded.version, track=excluded.track, title=excluded.title`,
		quiz.ID, quiz.Quiz.Version, quiz.Quiz.Track, nullable(quiz.Title)); err != nil {
		return err
	}
	for _, qs := range quiz.Questions {
		status := qs.Status
		if status == "" {
			status = domain.StatusActive
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO questions(id,quiz_id,prompt,position,status) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET quiz_id=excluded.quiz_id, prompt=excluded.prompt, position=excluded.position, status=excluded.status`,
			qs.ID, quiz.ID, qs.Prompt, qs.Position, status); err != nil {
			return err
		}
		for _, opt := range qs.Options {
			if _, err := q.ExecContext(ctx, `INSERT INTO options(id,question_id,label,position) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET question_id=excluded.question_id, label=excluded.label, position=excluded.position`,
				opt.ID, qs.ID, opt.Label, opt.Position); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetQuiz loads a quiz with all questions (any status) and their options, in position order.
func (r Repo) GetQuiz(ctx context.Context, tx *sql.Tx, v domain.QuizVersion) (domain.Quiz, error) {
	q := r.q(tx)
	var quiz domain.Quiz
	var title sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,version,track,title FROM quizzes WHERE version=? AND track=?`, v.Version, v.Track).
		Scan(&quiz.ID, &quiz.Quiz.Version, &quiz.Quiz.Track, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz, ErrNotFound
	}
	if err != nil {
		return quiz, err
	}
	quiz.Title = title.String

	rows, err := q.QueryContext(ctx, `SELECT q.id,q.prompt,q.position,q.status,o.id,o.label,o.position
FROM questions q LEFT JOIN options o ON o.question_id=q.id
WHERE q.quiz_id=? ORDER BY q.position, q.id, o.position, o.id`, quiz.ID)
	if err != nil {
		return quiz, err
	}
	defer rows.Close()
	index := map[string]int{}
	for rows.Next() {
		var qs domain.Question
		var optID, optLabel sql.NullString
		var optPos sql.NullInt64
		if err := rows.Scan(&qs.ID, &qs.Prompt, &qs.Position, &qs.Status, &optID, &optLabel, &optPos); err != nil {
			return quiz, err
		}
		i, ok := index[qs.ID]
		if !ok {
			qs.QuizID = quiz.ID
			quiz.Questions = append(quiz.Questions, qs)
			i = len(quiz.Questions) - 1
			index[qs.ID] = i
		}
		if optID.Valid {
			quiz.Questions[i].Options = append(quiz.Questions[i].Options, domain.Option{
				ID:         optID.String,
				QuestionID: qs.ID,
				Label:      optLabel.String,
				Position:   int(optPos.Int64),
			})
		}
	}
	return quiz, rows.Err()
}

func (r Repo) UpsertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	allow, err := marshalStrings(s.AllowActions)
	if err != nil {
		return err
	}
	forbid, err := marshalStrings(s.ForbidActions)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO stages(id,name,description,allow_actions_json,forbid_actions_json) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
allow_actions_json=excluded.allow_actions_json, forbid_actions_json=excluded.forbid_actions_json`,
		s.ID, nullable(s.Name), nullable(s.Description), allow, forbid)
	return err
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	var s domain.Stage
	var name, desc, allow, forbid sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,allow_actions_json,forbid_actions_json FROM stages WHERE id=?`, id).
		Scan(&s.ID, &name, &desc, &allow, &forbid)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Name = name.String
	s.Description = desc.String
	if s.AllowActions, err = decodeStrings(allow); err != nil {
		return s, err
	}
	if s.ForbidActions, err = decodeStrings(forbid); err != nil {
		return s, err
	}
	return s, nil
}
