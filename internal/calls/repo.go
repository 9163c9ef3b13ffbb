package calls

import (
	"context"
	"time"

	"callqa-backend/internal/checklist"
)

// Claimed is a call taken for processing along with the status it left.
type Claimed struct {
	Call           Call
	PreviousStatus string
}

// Repo defines persistence operations for calls and their questionnaires.
type Repo interface {
	Create(ctx context.Context, call Call) (Call, error)
	GetByID(ctx context.Context, id int64) (Call, error)

	// Claim moves a call to processing unless another execution holds a claim
	// younger than lease, in which case it returns a *LeaseHeldError. It clears
	// any previous error.
	Claim(ctx context.Context, id int64, lease time.Duration) (Claimed, error)
	SetTranscript(ctx context.Context, id int64, transcript string) error
	MarkError(ctx context.Context, id int64, cause string) error
	// Complete upserts the questionnaire and marks the call done in one step.
	// Existing provenance flags are preserved.
	Complete(ctx context.Context, id int64, answers checklist.Answers) (Questionnaire, error)

	GetQuestionnaire(ctx context.Context, callID int64) (Questionnaire, error)
	// ApplyCorrection validates names through checklist.Answers.Apply and marks
	// the questionnaire as human-corrected.
	ApplyCorrection(ctx context.Context, callID int64, values map[string]checklist.Value) (Questionnaire, error)
}
