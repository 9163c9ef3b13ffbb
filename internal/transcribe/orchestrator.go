package transcribe

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"callqa-backend/internal/llm"
	"callqa-backend/internal/shared/metrics"
	"callqa-backend/internal/shared/telemetry"
)

const defaultTailChars = 200

// Result is a merged transcript and the route that produced it.
type Result struct {
	Text     string
	Provider string
	Fallback bool
	Segments int
}

// Orchestrator transcribes ordered segments with one provider per call.
type Orchestrator struct {
	router    *Router
	tailChars int
}

// NewOrchestrator returns an orchestrator. tailChars bounds the context passed
// from one segment to the next; zero or less uses the default.
func NewOrchestrator(router *Router, tailChars int) *Orchestrator {
	if tailChars <= 0 {
		tailChars = defaultTailChars
	}
	return &Orchestrator{router: router, tailChars: tailChars}
}

// Transcribe runs segments sequentially and joins their text with single spaces.
// Any segment failure aborts the whole call.
func (o *Orchestrator) Transcribe(ctx context.Context, segments []string, language string) (Result, error) {
	lang := NormalizeLanguage(language)
	provider, fallback := o.router.Select(lang)
	res := Result{Provider: provider.Name(), Fallback: fallback, Segments: len(segments)}

	if len(segments) == 0 {
		return res, &Error{Reason: ReasonEmpty, Provider: res.Provider, Segment: -1, Err: errors.New("no audio segments")}
	}
	if fallback {
		metrics.IncFallbackTranscription()
		telemetry.Warn("transcribe.fallback", map[string]any{
			"language": lang,
			"provider": res.Provider,
		})
	}

	parts := make([]string, 0, len(segments))
	prev := ""
	for i, seg := range segments {
		start := time.Now()
		text, err := provider.Transcribe(ctx, Request{
			AudioPath: seg,
			Language:  lang,
			Prompt:    tail(prev, o.tailChars),
		})
		if err != nil {
			return res, &Error{Reason: classify(err), Provider: res.Provider, Segment: i, Err: err}
		}
		if !utf8.ValidString(text) {
			return res, &Error{Reason: ReasonMalformed, Provider: res.Provider, Segment: i, Err: errors.New("response is not valid UTF-8")}
		}
		metrics.AddSegmentsTranscribed(1)
		telemetry.Info("transcribe.segment", map[string]any{
			"provider":    res.Provider,
			"segment":     i + 1,
			"segments":    len(segments),
			"chars":       utf8.RuneCountInString(text),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
		})
		parts = append(parts, text)
		prev = text
	}

	res.Text = strings.TrimSpace(strings.Join(parts, " "))
	if res.Text == "" {
		return res, &Error{Reason: ReasonEmpty, Provider: res.Provider, Segment: -1, Err: errors.New("provider returned empty transcript")}
	}
	return res, nil
}

func classify(err error) string {
	switch llm.Reason(err) {
	case llm.ReasonAuth:
		return ReasonAuth
	case llm.ReasonQuota:
		return ReasonQuota
	default:
		return ReasonAPI
	}
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}
