package calls

import (
	"context"
	"strings"
	"sync"
	"time"

	"callqa-backend/internal/checklist"
)

// MemoryRepo stores calls in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu             sync.RWMutex
	nextCallID     int64
	nextQuestionID int64
	calls          map[int64]Call
	questionnaires map[int64]Questionnaire
	now            func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:          make(map[int64]Call),
		questionnaires: make(map[int64]Questionnaire),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new call in pending state and assigns its ID.
func (r *MemoryRepo) Create(ctx context.Context, call Call) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCallID++
	now := r.now()
	call.ID = r.nextCallID
	call.Status = StatusPending
	call.ProcessingError = nil
	call.TranscriptText = nil
	if strings.TrimSpace(call.Language) == "" {
		call.Language = DefaultLanguage
	}
	call.CreatedAt = now
	call.UpdatedAt = now
	r.calls[call.ID] = call
	return call, nil
}

// GetByID returns a call by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, id int64) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	call, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return call, nil
}

// Claim moves the call to processing.
func (r *MemoryRepo) Claim(ctx context.Context, id int64, lease time.Duration) (Claimed, error) {
	if err := ctx.Err(); err != nil {
		return Claimed{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return Claimed{}, ErrNotFound
	}
	now := r.now()
	if call.Status == StatusProcessing && call.UpdatedAt.After(now.Add(-lease)) {
		return Claimed{}, leaseHeld(id, call.Status, call.UpdatedAt, now, lease)
	}
	previous := call.Status
	call.Status = StatusProcessing
	call.ProcessingError = nil
	call.UpdatedAt = now
	r.calls[id] = call
	return Claimed{Call: call, PreviousStatus: previous}, nil
}

// SetTranscript stores the merged transcript.
func (r *MemoryRepo) SetTranscript(ctx context.Context, id int64, transcript string) error {
	return r.update(ctx, id, func(c *Call) {
		c.TranscriptText = &transcript
	})
}

// MarkError records a failure cause.
func (r *MemoryRepo) MarkError(ctx context.Context, id int64, cause string) error {
	return r.update(ctx, id, func(c *Call) {
		c.Status = StatusError
		c.ProcessingError = &cause
	})
}

// Complete upserts the questionnaire and marks the call done.
func (r *MemoryRepo) Complete(ctx context.Context, id int64, answers checklist.Answers) (Questionnaire, error) {
	if err := ctx.Err(); err != nil {
		return Questionnaire{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return Questionnaire{}, ErrNotFound
	}
	now := r.now()

	q, exists := r.questionnaires[id]
	if !exists {
		r.nextQuestionID++
		q = Questionnaire{
			ID:         r.nextQuestionID,
			CallID:     id,
			FilledByAI: true,
			CreatedAt:  now,
		}
	}
	q.Answers = answers
	q.UpdatedAt = now
	r.questionnaires[id] = q

	call.Status = StatusDone
	call.ProcessingError = nil
	call.UpdatedAt = now
	r.calls[id] = call
	return q, nil
}

// GetQuestionnaire returns the questionnaire for a call.
func (r *MemoryRepo) GetQuestionnaire(ctx context.Context, callID int64) (Questionnaire, error) {
	if err := ctx.Err(); err != nil {
		return Questionnaire{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.questionnaires[callID]
	if !ok {
		return Questionnaire{}, ErrQuestionnaireNotFound
	}
	return q, nil
}

// ApplyCorrection applies a reviewer's edits.
func (r *MemoryRepo) ApplyCorrection(ctx context.Context, callID int64, values map[string]checklist.Value) (Questionnaire, error) {
	if err := ctx.Err(); err != nil {
		return Questionnaire{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.questionnaires[callID]
	if !ok {
		return Questionnaire{}, ErrQuestionnaireNotFound
	}
	if err := q.Answers.Apply(values); err != nil {
		return Questionnaire{}, err
	}
	q.CorrectedByHuman = true
	q.UpdatedAt = r.now()
	r.questionnaires[callID] = q
	return q, nil
}

// QuestionnaireCount reports how many questionnaire rows exist.
func (r *MemoryRepo) QuestionnaireCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.questionnaires)
}

func (r *MemoryRepo) update(ctx context.Context, id int64, fn func(*Call)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	fn(&call)
	call.UpdatedAt = r.now()
	r.calls[id] = call
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
