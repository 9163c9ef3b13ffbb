package calls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"callqa-backend/internal/checklist"
	"callqa-backend/internal/queue"
	"callqa-backend/internal/shared/telemetry"
)

// Service contains the read side and the enqueue trigger for calls.
type Service struct {
	Repo  Repo
	Queue queue.Client
	Now   func() time.Time
}

// NewInput carries the metadata accepted when a call is registered.
type NewInput struct {
	OrderID     string    `json:"order_id"`
	OperatorID  *int64    `json:"operator_id"`
	CallDate    time.Time `json:"call_date"`
	DurationSec *int      `json:"duration_sec"`
	AudioURL    string    `json:"audio_url"`
	Language    string    `json:"language"`
}

// StatusView is the polling contract for a call.
type StatusView struct {
	CallID     int64              `json:"call_id"`
	Status     string             `json:"status"`
	Error      string             `json:"error,omitempty"`
	Result     *checklist.Answers `json:"result,omitempty"`
	TotalScore *int               `json:"total_score,omitempty"`
	MaxScore   *int               `json:"max_score,omitempty"`
}

// Create registers a call in pending state and schedules processing.
func (s *Service) Create(ctx context.Context, in NewInput) (Call, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return Call{}, fmt.Errorf("%w: order_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.AudioURL) == "" {
		return Call{}, fmt.Errorf("%w: audio_url is required", ErrInvalidInput)
	}
	if in.CallDate.IsZero() {
		return Call{}, fmt.Errorf("%w: call_date is required", ErrInvalidInput)
	}
	call, err := s.Repo.Create(ctx, Call{
		OrderID:     strings.TrimSpace(in.OrderID),
		OperatorID:  in.OperatorID,
		CallDate:    in.CallDate.UTC(),
		DurationSec: in.DurationSec,
		AudioRef:    strings.TrimSpace(in.AudioURL),
		Language:    strings.ToLower(strings.TrimSpace(in.Language)),
	})
	if err != nil {
		return Call{}, err
	}
	if _, err := s.enqueue(ctx, call); err != nil {
		return call, err
	}
	return call, nil
}

// Get returns a call by ID.
func (s *Service) Get(ctx context.Context, id int64) (Call, error) {
	return s.Repo.GetByID(ctx, id)
}

// Enqueue schedules a new pipeline run for an existing call.
func (s *Service) Enqueue(ctx context.Context, id int64) (queue.Message, error) {
	call, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return queue.Message{}, err
	}
	return s.enqueue(ctx, call)
}

func (s *Service) enqueue(ctx context.Context, call Call) (queue.Message, error) {
	if s.Queue == nil {
		return queue.Message{}, ErrQueueNotConfigured
	}
	msg := queue.NewMessage(call.ID, call.AudioRef, s.now())
	if err := s.Queue.Send(ctx, msg); err != nil {
		return queue.Message{}, fmt.Errorf("enqueue call %d: %w", call.ID, err)
	}
	telemetry.Info("calls.enqueued", map[string]any{
		"call_id":    call.ID,
		"request_id": msg.RequestID,
		"status":     call.Status,
	})
	return msg, nil
}

// Status reports processing state, with the checklist once done.
func (s *Service) Status(ctx context.Context, id int64) (StatusView, error) {
	call, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{CallID: call.ID, Status: call.Status}
	switch call.Status {
	case StatusError:
		if call.ProcessingError != nil {
			view.Error = *call.ProcessingError
		}
	case StatusDone:
		q, err := s.Repo.GetQuestionnaire(ctx, id)
		if err != nil {
			return StatusView{}, err
		}
		total := q.TotalScore()
		maxScore := checklist.MaxScore
		view.Result = &q.Answers
		view.TotalScore = &total
		view.MaxScore = &maxScore
	}
	return view, nil
}

// Questionnaire returns the checklist result for a call.
func (s *Service) Questionnaire(ctx context.Context, id int64) (Questionnaire, error) {
	return s.Repo.GetQuestionnaire(ctx, id)
}

// Correct applies a reviewer's edits to a call's checklist.
func (s *Service) Correct(ctx context.Context, id int64, values map[string]checklist.Value) (Questionnaire, error) {
	q, err := s.Repo.ApplyCorrection(ctx, id, values)
	if err != nil {
		return Questionnaire{}, err
	}
	telemetry.Info("calls.questionnaire.corrected", map[string]any{
		"call_id": id,
		"fields":  len(values),
		"score":   q.TotalScore(),
	})
	return q, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
