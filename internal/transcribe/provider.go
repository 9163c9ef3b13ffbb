package transcribe

import (
	"context"
	"strings"

	"callqa-backend/internal/llm"
)

// Request is one segment sent to a speech provider.
type Request struct {
	AudioPath string
	Language  string
	// Prompt is the tail of the previous segment's text, if any.
	Prompt string
}

// Provider turns one audio segment into text.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

const (
	// CallCenterPrompt steers Whisper toward the call domain and keeps it from
	// switching languages on autodialer greetings.
	CallCenterPrompt = "Это запись телефонного разговора колл-центра на грузинском языке. " +
		"Оператор предлагает клиенту продукт для здоровья."
	// TranslationPrompt is the fixed context for the English translation endpoint.
	TranslationPrompt = "This is a sales call from a call center."
)

// WhisperProvider transcribes in the spoken language.
type WhisperProvider struct {
	ProviderName  string
	Client        llm.AudioClient
	Model         string
	ContextPrompt string
}

func (p *WhisperProvider) Name() string { return p.ProviderName }

func (p *WhisperProvider) Transcribe(ctx context.Context, req Request) (string, error) {
	return p.Client.Transcribe(ctx, llm.AudioRequest{
		Model:    p.Model,
		FilePath: req.AudioPath,
		Language: req.Language,
		Prompt:   joinPrompt(p.ContextPrompt, req.Prompt),
	})
}

// TranslationProvider produces English text for any spoken language.
type TranslationProvider struct {
	ProviderName  string
	Client        llm.AudioClient
	Model         string
	ContextPrompt string
}

func (p *TranslationProvider) Name() string { return p.ProviderName }

func (p *TranslationProvider) Transcribe(ctx context.Context, req Request) (string, error) {
	return p.Client.Translate(ctx, llm.AudioRequest{
		Model:    p.Model,
		FilePath: req.AudioPath,
		Prompt:   joinPrompt(p.ContextPrompt, req.Prompt),
	})
}

func joinPrompt(fixed, tail string) string {
	return strings.TrimSpace(fixed + " " + tail)
}
