package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// ChatRequest describes a single chat completion.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	// JSON asks the provider to return a single JSON object.
	JSON bool
}

// ChatClient abstracts chat completion providers.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// AudioRequest describes one speech-to-text upload.
type AudioRequest struct {
	Model    string
	FilePath string
	// Language is an ISO-639-1 hint. Ignored by translation endpoints.
	Language string
	// Prompt carries prior context for continuity across segments.
	Prompt string
}

// AudioClient abstracts Whisper-style speech endpoints.
type AudioClient interface {
	// Transcribe returns text in the spoken language.
	Transcribe(ctx context.Context, req AudioRequest) (string, error)
	// Translate returns English text regardless of the spoken language.
	Translate(ctx context.Context, req AudioRequest) (string, error)
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Type != "" {
		return fmt.Sprintf("%s error: status %d: %s (%s)", e.Provider, e.StatusCode, msg, e.Type)
	}
	return fmt.Sprintf("%s error: status %d: %s", e.Provider, e.StatusCode, msg)
}

// IsAuth reports a rejected or missing credential.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsQuota reports rate limiting or exhausted credit.
func (e *APIError) IsQuota() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == "insufficient_quota" || e.Type == "insufficient_quota"
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	if e.Code == "insufficient_quota" || e.Type == "insufficient_quota" {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Failure reasons shared by stages that call providers.
const (
	ReasonAuth  = "auth"
	ReasonQuota = "quota"
	ReasonAPI   = "api"
)

// Reason maps a provider error to a coarse failure reason.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuth():
			return ReasonAuth
		case apiErr.IsQuota():
			return ReasonQuota
		}
	}
	return ReasonAPI
}
