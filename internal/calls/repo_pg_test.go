package calls

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"callqa-backend/internal/checklist"
)

var callCols = []string{
	"id", "order_id", "operator_id", "call_date", "duration_sec", "audio_url", "language",
	"transcript_text", "processing_status", "processing_error", "created_at", "updated_at",
}

func questionnaireCols() []string {
	cols := []string{"id", "call_id"}
	cols = append(cols, checklist.FieldNames()...)
	return append(cols, "filled_by_ai", "corrected_by_human", "created_at", "updated_at")
}

func newMock(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoGetByIDMapsNullables(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM calls WHERE id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(callCols).
			AddRow(int64(5), "ORD-1", nil, now, int64(310), "https://x/call.mp3", "ka", "hello", StatusDone, nil, now, now))

	call, err := repo.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if call.OperatorID != nil || call.DurationSec == nil || *call.DurationSec != 310 {
		t.Fatalf("unexpected nullable mapping %+v", call)
	}
	if call.TranscriptText == nil || *call.TranscriptText != "hello" || call.ProcessingError != nil {
		t.Fatalf("unexpected transcript/error mapping %+v", call)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM calls").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(callCols))

	if _, err := repo.GetByID(context.Background(), 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoClaimUpdatesConditionally(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("WITH prev AS (.+) FOR UPDATE (.+) UPDATE calls").
		WithArgs(int64(1), StatusProcessing, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(append(callCols, "prev_status")).
			AddRow(int64(1), "ORD-1", int64(3), now, nil, "a.mp3", "ka", nil, StatusProcessing, nil, now, now, StatusError))

	claimed, err := repo.Claim(context.Background(), 1, 30*time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	call := claimed.Call
	if call.Status != StatusProcessing || call.OperatorID == nil || *call.OperatorID != 3 {
		t.Fatalf("unexpected call %+v", call)
	}
	if claimed.PreviousStatus != StatusError {
		t.Fatalf("expected previous status error, got %q", claimed.PreviousStatus)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoClaimRejectsActiveExecution(t *testing.T) {
	repo, mock := newMock(t)
	claimedAt := time.Now().UTC().Add(-10 * time.Minute)

	mock.ExpectQuery("UPDATE calls").
		WithArgs(int64(1), StatusProcessing, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(append(callCols, "prev_status")))
	mock.ExpectQuery("SELECT processing_status, updated_at FROM calls").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"processing_status", "updated_at"}).AddRow(StatusProcessing, claimedAt))

	_, err := repo.Claim(context.Background(), 1, 30*time.Minute)
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	var held *LeaseHeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected *LeaseHeldError, got %T", err)
	}
	if held.Remaining < 19*time.Minute || held.Remaining > 20*time.Minute {
		t.Fatalf("expected about 20m of lease left, got %s", held.Remaining)
	}
}

func TestPGRepoClaimMissingCall(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery("UPDATE calls").
		WillReturnRows(sqlmock.NewRows(append(callCols, "prev_status")))
	mock.ExpectQuery("SELECT processing_status, updated_at FROM calls").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"processing_status", "updated_at"}))

	if _, err := repo.Claim(context.Background(), 2, time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoMarkError(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec("UPDATE calls SET processing_status").
		WithArgs(int64(4), StatusError, "transcription failed (empty)", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkError(context.Background(), 4, "transcription failed (empty)"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSetTranscriptMissingRow(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec("UPDATE calls SET transcript_text").
		WithArgs(int64(4), "text", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.SetTranscript(context.Background(), 4, "text"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoCompleteUpsertsAndMarksDone(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	var answers checklist.Answers
	if err := answers.Apply(map[string]checklist.Value{"q1_1": checklist.True, "q2_1": checklist.False}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	args := []driver.Value{int64(8)}
	row := []driver.Value{int64(1), int64(8)}
	for _, v := range answers.Values() {
		if p := v.Ptr(); p != nil {
			args = append(args, *p)
			row = append(row, *p)
		} else {
			args = append(args, nil)
			row = append(row, nil)
		}
	}
	args = append(args, sqlmock.AnyArg())
	row = append(row, true, true, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO questionnaire_responses (.+) ON CONFLICT \\(call_id\\) DO UPDATE").
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows(questionnaireCols()).AddRow(row...))
	mock.ExpectExec("UPDATE calls SET processing_status").
		WithArgs(int64(8), StatusDone, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	q, err := repo.Complete(context.Background(), 8, answers)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if q.Answers.Map()["q1_1"] != checklist.True || q.TotalScore() != 1 {
		t.Fatalf("unexpected answers %+v", q.Answers.Map())
	}
	if !q.CorrectedByHuman {
		t.Fatalf("stored provenance flags must be returned unchanged")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCompleteRollsBackOnFailure(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO questionnaire_responses").
		WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	if _, err := repo.Complete(context.Background(), 8, checklist.Answers{}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoApplyCorrectionRejectsUnknownField(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	row := []driver.Value{int64(1), int64(8)}
	for range checklist.FieldNames() {
		row = append(row, nil)
	}
	row = append(row, true, false, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM questionnaire_responses WHERE call_id = \\$1 FOR UPDATE").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(questionnaireCols()).AddRow(row...))
	mock.ExpectRollback()

	_, err := repo.ApplyCorrection(context.Background(), 8, map[string]checklist.Value{"q0_0": checklist.True})
	var unknown checklist.UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownFieldError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
