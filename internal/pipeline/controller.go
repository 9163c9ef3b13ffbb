package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callqa-backend/internal/analysis"
	"callqa-backend/internal/audio"
	"callqa-backend/internal/calls"
	"callqa-backend/internal/checklist"
	"callqa-backend/internal/shared/metrics"
	"callqa-backend/internal/shared/telemetry"
	"callqa-backend/internal/transcribe"
)

const (
	defaultLease  = 20 * time.Minute
	maxCauseChars = 500
)

// Acquirer resolves an audio reference to a local file.
type Acquirer interface {
	Acquire(ctx context.Context, ref string) (*audio.LocalAudio, error)
}

// Segmenter cuts a local file into provider-sized segments.
type Segmenter interface {
	Prepare(ctx context.Context, src string) (*audio.Segments, error)
}

// Transcriber turns ordered segments into one transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, segments []string, language string) (transcribe.Result, error)
}

// Grader fills the checklist from a transcript.
type Grader interface {
	Analyze(ctx context.Context, transcript, language string) (checklist.Answers, error)
}

// Config holds controller settings.
type Config struct {
	// Lease is how long a processing claim blocks other executions.
	Lease time.Duration
}

// Controller drives one call through acquisition, transcription, and analysis.
type Controller struct {
	repo        calls.Repo
	acquirer    Acquirer
	segmenter   Segmenter
	transcriber Transcriber
	grader      Grader
	lease       time.Duration
}

// New constructs a Controller.
func New(repo calls.Repo, acquirer Acquirer, segmenter Segmenter, transcriber Transcriber, grader Grader, cfg Config) *Controller {
	lease := cfg.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	return &Controller{
		repo:        repo,
		acquirer:    acquirer,
		segmenter:   segmenter,
		transcriber: transcriber,
		grader:      grader,
		lease:       lease,
	}
}

// Process runs the pipeline for callID. An empty audioRef falls back to the
// reference stored on the call.
//
// calls.ErrNotFound and calls.ErrAlreadyProcessing are returned untouched and
// leave the call as it was. Any stage failure is recorded on the call before
// being returned.
func (c *Controller) Process(ctx context.Context, callID int64, audioRef string) error {
	start := time.Now()
	claimed, err := c.repo.Claim(ctx, callID, c.lease)
	if err != nil {
		if errors.Is(err, calls.ErrAlreadyProcessing) {
			fields := map[string]any{
				"call_id":    callID,
				"request_id": RequestIDFromContext(ctx),
			}
			var held *calls.LeaseHeldError
			if errors.As(err, &held) {
				fields["lease_remaining_ms"] = held.Remaining.Milliseconds()
			}
			telemetry.Warn("pipeline.claim_rejected", fields)
		}
		return err
	}
	call := claimed.Call
	metrics.IncCallStarted()
	logTransition(ctx, callID, claimed.PreviousStatus, calls.StatusProcessing, nil)

	ref := strings.TrimSpace(audioRef)
	if ref == "" {
		ref = call.AudioRef
	}

	answers, err := c.run(ctx, call, ref)
	if err != nil {
		return c.fail(ctx, callID, start, err)
	}

	if _, err := c.repo.Complete(ctx, callID, answers); err != nil {
		return c.fail(ctx, callID, start, fmt.Errorf("store questionnaire: %w", err))
	}
	metrics.IncCallCompleted()
	metrics.ObserveCallDurationMs(float64(time.Since(start).Milliseconds()))
	logTransition(ctx, callID, calls.StatusProcessing, calls.StatusDone, map[string]any{
		"score":       answers.Score(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func (c *Controller) run(ctx context.Context, call calls.Call, ref string) (checklist.Answers, error) {
	local, err := c.acquirer.Acquire(ctx, ref)
	if err != nil {
		return checklist.Answers{}, err
	}
	defer closeQuietly("pipeline.cleanup_audio", call.ID, local.Close)

	segs, err := c.segmenter.Prepare(ctx, local.Path)
	if err != nil {
		return checklist.Answers{}, err
	}
	defer closeQuietly("pipeline.cleanup_segments", call.ID, segs.Close)

	result, err := c.transcriber.Transcribe(ctx, segs.Paths, call.Language)
	if err != nil {
		return checklist.Answers{}, err
	}
	if err := c.repo.SetTranscript(ctx, call.ID, result.Text); err != nil {
		return checklist.Answers{}, fmt.Errorf("store transcript: %w", err)
	}
	telemetry.Info("pipeline.transcribed", map[string]any{
		"call_id":    call.ID,
		"request_id": RequestIDFromContext(ctx),
		"provider":   result.Provider,
		"fallback":   result.Fallback,
		"segments":   result.Segments,
		"chars":      len(result.Text),
	})

	return c.grader.Analyze(ctx, result.Text, call.Language)
}

func (c *Controller) fail(ctx context.Context, callID int64, start time.Time, cause error) error {
	metrics.IncCallFailed()
	msg := SanitizeCause(cause)
	// The claim context may already be done; the error still has to land.
	if err := c.repo.MarkError(context.WithoutCancel(ctx), callID, msg); err != nil {
		telemetry.Error("pipeline.mark_error_failed", map[string]any{
			"call_id": callID,
			"error":   err.Error(),
		})
	}
	logTransition(ctx, callID, calls.StatusProcessing, calls.StatusError, map[string]any{
		"stage":       Stage(cause),
		"error":       msg,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return cause
}

// Stage names the pipeline stage an error came from.
func Stage(err error) string {
	var fetchErr *audio.FetchError
	var normErr *audio.NormalizationError
	var transErr *transcribe.Error
	var analysisErr *analysis.Error
	switch {
	case errors.As(err, &fetchErr):
		return "acquisition"
	case errors.As(err, &normErr):
		return "normalization"
	case errors.As(err, &transErr):
		return "transcription"
	case errors.As(err, &analysisErr):
		return "analysis"
	default:
		return "persistence"
	}
}

// SanitizeCause flattens err to a single bounded line for the call record.
func SanitizeCause(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if msg == "" {
		msg = "processing failed"
	}
	runes := []rune(msg)
	if len(runes) > maxCauseChars {
		msg = string(runes[:maxCauseChars])
	}
	return msg
}

func logTransition(ctx context.Context, callID int64, from, to string, extra map[string]any) {
	fields := map[string]any{
		"call_id":           callID,
		"request_id":        RequestIDFromContext(ctx),
		"status":            to,
		"status_transition": from + "->" + to,
	}
	for k, v := range extra {
		fields[k] = v
	}
	if to == calls.StatusError {
		telemetry.Warn("pipeline.status", fields)
		return
	}
	telemetry.Info("pipeline.status", fields)
}

func closeQuietly(event string, callID int64, closeFn func() error) {
	if err := closeFn(); err != nil {
		telemetry.Warn(event, map[string]any{"call_id": callID, "error": err.Error()})
	}
}
