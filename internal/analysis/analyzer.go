package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"callqa-backend/internal/checklist"
	"callqa-backend/internal/llm"
	"callqa-backend/internal/shared/telemetry"
)

const defaultModel = "gpt-4o-mini"

// Config controls the grading and translation calls.
type Config struct {
	Model string
	// NativeLanguages are graded as-is. Everything else is translated first.
	NativeLanguages []string
}

// Analyzer grades transcripts against the checklist.
type Analyzer struct {
	chat   llm.ChatClient
	model  string
	native map[string]struct{}
}

// New constructs an Analyzer.
func New(chat llm.ChatClient, cfg Config) *Analyzer {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	langs := cfg.NativeLanguages
	if len(langs) == 0 {
		langs = []string{"ru", "en"}
	}
	native := make(map[string]struct{}, len(langs))
	for _, l := range langs {
		native[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	return &Analyzer{chat: chat, model: model, native: native}
}

// Analyze returns a fully populated checklist for transcript.
func (a *Analyzer) Analyze(ctx context.Context, transcript, language string) (checklist.Answers, error) {
	text := transcript
	lang := strings.ToLower(strings.TrimSpace(language))
	if _, ok := a.native[lang]; !ok {
		text = a.translate(ctx, transcript, lang)
	}

	start := time.Now()
	raw, err := a.chat.Chat(ctx, llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: "system", Content: graderSystemPrompt},
			{Role: "user", Content: gradingUserPrompt(text)},
		},
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		return checklist.Answers{}, &Error{Reason: providerReason(err), Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return checklist.Answers{}, &Error{Reason: ReasonEmpty, Err: errors.New("grader returned empty response")}
	}

	answers, missing, err := ParseAnswers(raw)
	if err != nil {
		telemetry.Warn("analysis.malformed", map[string]any{
			"model": a.model,
			"error": err.Error(),
			"raw":   truncateRunes(raw, maxRawLogged),
		})
		return checklist.Answers{}, &Error{Reason: ReasonMalformed, Raw: raw, Err: err}
	}
	if len(missing) > 0 {
		telemetry.Warn("analysis.missing_fields", map[string]any{
			"fields": strings.Join(missing, ","),
			"count":  len(missing),
		})
	}
	telemetry.Info("analysis.graded", map[string]any{
		"model":       a.model,
		"score":       answers.Score(),
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})
	return answers, nil
}

// translate returns a Russian rendering of transcript, or the original on failure.
func (a *Analyzer) translate(ctx context.Context, transcript, lang string) string {
	out, err := a.chat.Chat(ctx, llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: "system", Content: translationSystemPrompt},
			{Role: "user", Content: transcript},
		},
		Temperature: 0,
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty translation")
	}
	if err != nil {
		telemetry.Warn("analysis.translation_failed", map[string]any{
			"language": lang,
			"error":    err.Error(),
		})
		return transcript
	}
	telemetry.Info("analysis.translated", map[string]any{
		"language": lang,
		"chars":    len([]rune(out)),
	})
	return out
}

// ParseAnswers decodes a grader response. Known fields that are absent or not
// boolean are reported in missing and left unset. Unknown fields are ignored.
func ParseAnswers(raw string) (checklist.Answers, []string, error) {
	var answers checklist.Answers

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFences(raw)), &obj); err != nil {
		return answers, nil, err
	}
	if obj == nil {
		return answers, nil, errors.New("response is not a JSON object")
	}

	values := make(map[string]checklist.Value, checklist.MaxScore)
	var missing []string
	for _, name := range checklist.FieldNames() {
		rawVal, ok := obj[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		v, ok := decodeValue(rawVal)
		if !ok {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}
	if err := answers.Apply(values); err != nil {
		return answers, nil, err
	}
	sort.Strings(missing)
	return answers, missing, nil
}

func decodeValue(raw json.RawMessage) (checklist.Value, bool) {
	var v checklist.Value
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return checklist.True, true
		case "false":
			return checklist.False, true
		case "null", "":
			return checklist.Unset, true
		}
	}
	return checklist.Unset, false
}

// stripFences removes a markdown code fence some models wrap around JSON.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func providerReason(err error) string {
	switch llm.Reason(err) {
	case llm.ReasonAuth:
		return ReasonAuth
	case llm.ReasonQuota:
		return ReasonQuota
	default:
		return ReasonAPI
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
