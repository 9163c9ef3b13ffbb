package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"callqa-backend/internal/checklist"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const callColumns = `id, order_id, operator_id, call_date, duration_sec, audio_url, language,
       transcript_text, processing_status, processing_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner, extra ...any) (Call, error) {
	var c Call
	var operatorID sql.NullInt64
	var duration sql.NullInt32
	var audioURL sql.NullString
	var transcript sql.NullString
	var processingError sql.NullString
	dest := []any{
		&c.ID,
		&c.OrderID,
		&operatorID,
		&c.CallDate,
		&duration,
		&audioURL,
		&c.Language,
		&transcript,
		&c.Status,
		&processingError,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	if operatorID.Valid {
		c.OperatorID = &operatorID.Int64
	}
	if duration.Valid {
		d := int(duration.Int32)
		c.DurationSec = &d
	}
	c.AudioRef = audioURL.String
	if transcript.Valid {
		c.TranscriptText = &transcript.String
	}
	if processingError.Valid {
		c.ProcessingError = &processingError.String
	}
	return c, nil
}

// Create inserts a new call in pending state.
func (r *PGRepo) Create(ctx context.Context, call Call) (Call, error) {
	query := `
INSERT INTO calls (order_id, operator_id, call_date, duration_sec, audio_url, language, processing_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING ` + callColumns
	language := strings.TrimSpace(call.Language)
	if language == "" {
		language = DefaultLanguage
	}
	var duration any
	if call.DurationSec != nil {
		duration = *call.DurationSec
	}
	var operatorID any
	if call.OperatorID != nil {
		operatorID = *call.OperatorID
	}
	return scanCall(r.DB.QueryRowContext(ctx, query,
		call.OrderID,
		operatorID,
		call.CallDate,
		duration,
		call.AudioRef,
		language,
		StatusPending,
		time.Now().UTC(),
	))
}

// GetByID returns a call by ID.
func (r *PGRepo) GetByID(ctx context.Context, id int64) (Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.DB.QueryRowContext(ctx, query, id))
}

// Claim conditionally moves the call to processing. The row lock in prev makes
// the reported previous status the one this update replaced.
func (r *PGRepo) Claim(ctx context.Context, id int64, lease time.Duration) (Claimed, error) {
	now := time.Now().UTC()
	query := `
WITH prev AS (
    SELECT id AS prev_id, processing_status AS prev_status, updated_at AS prev_updated_at
    FROM calls WHERE id = $1 FOR UPDATE
)
UPDATE calls
SET processing_status = $2, processing_error = NULL, updated_at = $3
FROM prev
WHERE calls.id = prev.prev_id AND (prev.prev_status <> $2 OR prev.prev_updated_at < $4)
RETURNING ` + callColumns + `, prev.prev_status`
	var previous string
	call, err := scanCall(r.DB.QueryRowContext(ctx, query, id, StatusProcessing, now, now.Add(-lease)), &previous)
	if err == nil {
		return Claimed{Call: call, PreviousStatus: previous}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Claimed{}, err
	}

	// No row updated: either the call is missing or someone else holds it.
	var status string
	var updatedAt time.Time
	err = r.DB.QueryRowContext(ctx, `SELECT processing_status, updated_at FROM calls WHERE id = $1`, id).Scan(&status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Claimed{}, ErrNotFound
	}
	if err != nil {
		return Claimed{}, err
	}
	return Claimed{}, leaseHeld(id, status, updatedAt, now, lease)
}

// SetTranscript stores the merged transcript.
func (r *PGRepo) SetTranscript(ctx context.Context, id int64, transcript string) error {
	const query = `UPDATE calls SET transcript_text = $2, updated_at = $3 WHERE id = $1`
	return execOne(ctx, r.DB, query, id, transcript, time.Now().UTC())
}

// MarkError records a failure cause.
func (r *PGRepo) MarkError(ctx context.Context, id int64, cause string) error {
	const query = `UPDATE calls SET processing_status = $2, processing_error = $3, updated_at = $4 WHERE id = $1`
	return execOne(ctx, r.DB, query, id, StatusError, cause, time.Now().UTC())
}

// Complete upserts the questionnaire and marks the call done in one transaction.
func (r *PGRepo) Complete(ctx context.Context, id int64, answers checklist.Answers) (Questionnaire, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Questionnaire{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	args := make([]any, 0, checklist.MaxScore+2)
	args = append(args, id)
	for _, v := range answers.Values() {
		args = append(args, v.Ptr())
	}
	args = append(args, now)

	q, err := scanQuestionnaire(tx.QueryRowContext(ctx, upsertQuestionnaireQuery, args...))
	if err != nil {
		return Questionnaire{}, err
	}
	if err := execOne(ctx, tx, `UPDATE calls SET processing_status = $2, processing_error = NULL, updated_at = $3 WHERE id = $1`,
		id, StatusDone, now); err != nil {
		return Questionnaire{}, err
	}
	if err := tx.Commit(); err != nil {
		return Questionnaire{}, err
	}
	return q, nil
}

// GetQuestionnaire returns the questionnaire for a call.
func (r *PGRepo) GetQuestionnaire(ctx context.Context, callID int64) (Questionnaire, error) {
	query := `SELECT ` + questionnaireColumns + ` FROM questionnaire_responses WHERE call_id = $1`
	return scanQuestionnaire(r.DB.QueryRowContext(ctx, query, callID))
}

// ApplyCorrection applies a reviewer's edits under a row lock.
func (r *PGRepo) ApplyCorrection(ctx context.Context, callID int64, values map[string]checklist.Value) (Questionnaire, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Questionnaire{}, err
	}
	defer tx.Rollback()

	query := `SELECT ` + questionnaireColumns + ` FROM questionnaire_responses WHERE call_id = $1 FOR UPDATE`
	q, err := scanQuestionnaire(tx.QueryRowContext(ctx, query, callID))
	if err != nil {
		return Questionnaire{}, err
	}
	if err := q.Answers.Apply(values); err != nil {
		return Questionnaire{}, err
	}

	now := time.Now().UTC()
	args := make([]any, 0, checklist.MaxScore+2)
	args = append(args, callID)
	for _, v := range q.Answers.Values() {
		args = append(args, v.Ptr())
	}
	args = append(args, now)
	if err := execOne(ctx, tx, correctQuestionnaireQuery, args...); err != nil {
		return Questionnaire{}, err
	}
	if err := tx.Commit(); err != nil {
		return Questionnaire{}, err
	}
	q.CorrectedByHuman = true
	q.UpdatedAt = now
	return q, nil
}

var questionnaireColumns = `id, call_id, ` + strings.Join(checklist.FieldNames(), ", ") +
	`, filled_by_ai, corrected_by_human, created_at, updated_at`

// upsertQuestionnaireQuery overwrites checklist fields only. Provenance flags
// keep their stored values on conflict.
var upsertQuestionnaireQuery = func() string {
	names := checklist.FieldNames()
	placeholders := make([]string, len(names))
	updates := make([]string, len(names))
	for i, name := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", name, name)
	}
	nowArg := fmt.Sprintf("$%d", len(names)+2)
	return `
INSERT INTO questionnaire_responses (call_id, ` + strings.Join(names, ", ") + `, filled_by_ai, corrected_by_human, created_at, updated_at)
VALUES ($1, ` + strings.Join(placeholders, ", ") + `, TRUE, FALSE, ` + nowArg + `, ` + nowArg + `)
ON CONFLICT (call_id) DO UPDATE SET ` + strings.Join(updates, ", ") + `, updated_at = EXCLUDED.updated_at
RETURNING ` + questionnaireColumns
}()

var correctQuestionnaireQuery = func() string {
	names := checklist.FieldNames()
	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = fmt.Sprintf("%s = $%d", name, i+2)
	}
	return `UPDATE questionnaire_responses SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(`, corrected_by_human = TRUE, updated_at = $%d WHERE call_id = $1`, len(names)+2)
}()

func scanQuestionnaire(row rowScanner) (Questionnaire, error) {
	var q Questionnaire
	fields := make([]sql.NullBool, checklist.MaxScore)
	dest := make([]any, 0, checklist.MaxScore+6)
	dest = append(dest, &q.ID, &q.CallID)
	for i := range fields {
		dest = append(dest, &fields[i])
	}
	dest = append(dest, &q.FilledByAI, &q.CorrectedByHuman, &q.CreatedAt, &q.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Questionnaire{}, ErrQuestionnaireNotFound
		}
		return Questionnaire{}, err
	}

	values := make([]checklist.Value, len(fields))
	for i, f := range fields {
		if f.Valid {
			values[i] = checklist.FromPtr(&f.Bool)
		}
	}
	if err := q.Answers.SetValues(values); err != nil {
		return Questionnaire{}, err
	}
	return q, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOne(ctx context.Context, db execer, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repo = (*PGRepo)(nil)
