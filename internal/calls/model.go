package calls

import (
	"time"

	"callqa-backend/internal/checklist"
)

// Processing statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// DefaultLanguage is stored when a call is created without a language.
const DefaultLanguage = "ka"

// Call is one recorded conversation tracked through the pipeline.
type Call struct {
	ID              int64     `json:"id"`
	OrderID         string    `json:"order_id"`
	OperatorID      *int64    `json:"operator_id,omitempty"`
	CallDate        time.Time `json:"call_date"`
	DurationSec     *int      `json:"duration_sec,omitempty"`
	AudioRef        string    `json:"audio_url"`
	Language        string    `json:"language"`
	TranscriptText  *string   `json:"transcript_text,omitempty"`
	Status          string    `json:"processing_status"`
	ProcessingError *string   `json:"processing_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Questionnaire is the checklist result for exactly one call.
type Questionnaire struct {
	ID               int64             `json:"id"`
	CallID           int64             `json:"call_id"`
	Answers          checklist.Answers `json:"answers"`
	FilledByAI       bool              `json:"filled_by_ai"`
	CorrectedByHuman bool              `json:"corrected_by_human"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TotalScore counts fields answered true.
func (q Questionnaire) TotalScore() int {
	return q.Answers.Score()
}
